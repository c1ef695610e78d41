package jimeng

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
)

type uploadResponse struct {
	URI string `json:"uri"`
}

// UploadAsset uploads a local reference image and returns the remote asset
// reference to put in a generation request.
func (c *Client) UploadAsset(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("jimeng: open asset: %w", err)
	}
	defer f.Close()
	return c.UploadReader(ctx, filepath.Base(path), f)
}

// UploadReader uploads the content of r under name.
func (c *Client) UploadReader(ctx context.Context, name string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("jimeng: build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("jimeng: read asset: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("jimeng: build upload: %w", err)
	}

	var resp uploadResponse
	if err := c.do(ctx, pathUpload, w.FormDataContentType(), &buf, &resp); err != nil {
		return "", fmt.Errorf("jimeng: upload %s: %w", name, err)
	}
	uri := strings.TrimSpace(resp.URI)
	if uri == "" {
		return "", fmt.Errorf("jimeng: upload %s: empty asset uri", name)
	}
	return uri, nil
}
