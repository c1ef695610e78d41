package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"genflow/internal/domain"
	"genflow/internal/infra"
)

// DefaultMaxAssetBytes caps a single downloaded asset.
const DefaultMaxAssetBytes = 256 << 20

// ErrAssetTooLarge is returned when a download exceeds the configured cap.
var ErrAssetTooLarge = errors.New("storage: asset exceeds size limit")

// Asset is one downloaded result item.
type Asset struct {
	Name string
	MIME string
	Data []byte
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	HTTPClient  *http.Client
	MaxBytes    int64
	Concurrency int
	Logger      *infra.Logger
}

// Fetcher downloads result assets from the URLs the remote service reports.
type Fetcher struct {
	client      *http.Client
	maxBytes    int64
	concurrency int
	logger      *infra.Logger
}

// NewFetcher constructs a Fetcher with defaults for unset options.
func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAssetBytes
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Fetcher{
		client:      client,
		maxBytes:    maxBytes,
		concurrency: concurrency,
		logger:      infra.Component(opts.Logger, "storage"),
	}
}

// Fetch downloads a single URL.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("storage: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("storage: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("storage: download %s: http %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("storage: read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", ErrAssetTooLarge
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// FetchResult downloads every item of result concurrently, preserving order.
func (f *Fetcher) FetchResult(ctx context.Context, result domain.Result) ([]Asset, error) {
	assets := make([]Asset, len(result.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, item := range result.Items {
		i, item := i, item
		g.Go(func() error {
			data, mimeType, err := f.Fetch(gctx, item.URL)
			if err != nil {
				return fmt.Errorf("storage: item %d of %s: %w", i, result.TaskID, err)
			}
			assets[i] = Asset{
				Name: AssetName(result.TaskID, i, item, mimeType),
				MIME: mimeType,
				Data: data,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	f.logger.Debug().Str("task_id", result.TaskID).Int("assets", len(assets)).Msg("storage: result downloaded")
	return assets, nil
}

// AssetName derives a stable file name for item i of a task.
func AssetName(taskID string, i int, item domain.ResultItem, mimeType string) string {
	ext := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(item.Format)), ".")
	if ext == "" {
		ext = strings.TrimPrefix(path.Ext(urlPath(item.URL)), ".")
	}
	if ext == "" && mimeType != "" {
		if exts, _ := mime.ExtensionsByType(strings.Split(mimeType, ";")[0]); len(exts) > 0 {
			ext = strings.TrimPrefix(exts[0], ".")
		}
	}
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s-%02d.%s", taskID, i+1, ext)
}

func urlPath(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}
