// Package jimeng talks to the Jimeng generation web API: submissions,
// continuation submissions, grouped status queries and asset uploads.
// Request signing is not performed here; the client authenticates with a
// session cookie.
package jimeng

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"genflow/internal/infra"
)

// ErrMissingSession indicates that the client was configured without credentials.
var ErrMissingSession = errors.New("jimeng: session id is required")

const (
	defaultBaseURL = "https://jimeng.jianying.com"
	defaultAppID   = 513695

	pathGenerate     = "/mweb/v1/aigc_draft/generate"
	pathHistoryByIDs = "/mweb/v1/get_history_by_ids"
	pathVideoTasks   = "/mweb/v1/mget_generate_task"
	pathUpload       = "/mweb/v1/upload_asset"
)

// Options configures the Jimeng client.
type Options struct {
	SessionID      string
	BaseURL        string
	AppID          int
	DefaultModel   string
	BatchCap       int
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Jimeng web API.
type Client struct {
	sessionID    string
	baseURL      string
	appID        int
	defaultModel string
	batchCap     int
	httpClient   *http.Client
	logger       *infra.Logger
}

// APIError is a non-success answer from the remote service.
type APIError struct {
	StatusCode int
	Ret        string
	Message    string
}

func (e *APIError) Error() string {
	if e.Ret != "" {
		return fmt.Sprintf("jimeng: %s (ret %s, http %d)", e.Message, e.Ret, e.StatusCode)
	}
	return fmt.Sprintf("jimeng: http %d: %s", e.StatusCode, e.Message)
}

// Terminal reports whether retrying the same request cannot succeed.
func (e *APIError) Terminal() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// envelope is the common response wrapper of the web API.
type envelope struct {
	Ret     flexString      `json:"ret"`
	ErrMsg  string          `json:"errmsg"`
	Data    json.RawMessage `json:"data"`
	LogID   string          `json:"logid"`
	Message string          `json:"message"`
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	appID := opts.AppID
	if appID <= 0 {
		appID = defaultAppID
	}
	model := strings.TrimSpace(opts.DefaultModel)
	if model == "" {
		model = defaultImageModel
	}
	batchCap := opts.BatchCap
	if batchCap <= 0 {
		batchCap = 4
	}
	return &Client{
		sessionID:    strings.TrimSpace(opts.SessionID),
		baseURL:      baseURL,
		appID:        appID,
		defaultModel: model,
		batchCap:     batchCap,
		httpClient:   httpClient,
		logger:       infra.Component(opts.Logger, "jimeng"),
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.sessionID != ""
}

// postJSON sends payload to path and decodes the envelope's data into out.
func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("jimeng: encode request: %w", err)
	}
	return c.do(ctx, path, "application/json", bytes.NewReader(body), out)
}

func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	if !c.HasCredentials() {
		return ErrMissingSession
	}
	endpoint := fmt.Sprintf("%s%s?aid=%d", c.baseURL, path, c.appID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("jimeng: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cookie", "sessionid="+c.sessionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jimeng: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("jimeng: read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && (env.ErrMsg != "" || env.Message != "") {
			msg = firstNonEmpty(env.ErrMsg, env.Message)
		}
		return &APIError{StatusCode: resp.StatusCode, Ret: string(env.Ret), Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("jimeng: decode response: %w", decodeErr)
	}
	if env.Ret != "" && env.Ret != "0" {
		return &APIError{StatusCode: resp.StatusCode, Ret: string(env.Ret), Message: firstNonEmpty(env.ErrMsg, env.Message, "request rejected")}
	}
	c.logger.Debug().Str("path", path).Str("log_id", env.LogID).Msg("jimeng: request succeeded")
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("jimeng: decode data: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
