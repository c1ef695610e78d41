package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"genflow/internal/domain"
)

type urlTransport struct {
	bodies map[string]string
}

func (u urlTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, ok := u.bodies[req.URL.String()]
	if !ok {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("")), Request: req}, nil
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"image/png"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "task/a.png", want: "task/a.png"},
		{key: "/task/./a.png", want: "task/a.png"},
		{key: `task\a.png`, want: "task/a.png"},
		{key: "../escape", wantErr: true},
		{key: "  ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := sanitizeKey(tt.key)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("sanitizeKey(%q) expected error", tt.key)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("sanitizeKey(%q) = %q, %v, want %q", tt.key, got, err, tt.want)
		}
	}
}

func TestFetchResultAndSave(t *testing.T) {
	fetcher := NewFetcher(FetcherOptions{HTTPClient: &http.Client{Transport: urlTransport{bodies: map[string]string{
		"https://cdn.test/1.png?sig=x": "first",
		"https://cdn.test/2":           "second",
	}}}})
	result := domain.Result{TaskID: "100", Kind: domain.TaskKindImage, Items: []domain.ResultItem{
		{URL: "https://cdn.test/1.png?sig=x"},
		{URL: "https://cdn.test/2", Format: "webp"},
	}}

	assets, err := fetcher.FetchResult(context.Background(), result)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if assets[0].Name != "100-01.png" || assets[1].Name != "100-02.webp" {
		t.Fatalf("names = %q, %q", assets[0].Name, assets[1].Name)
	}

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	keys, err := store.SaveAssets(context.Background(), result.TaskID, assets)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(keys) != 2 || keys[0] != "100/100-01.png" {
		t.Fatalf("keys = %v", keys)
	}
	data, err := store.Read(context.Background(), keys[1])
	if err != nil || string(data) != "second" {
		t.Fatalf("read = %q, %v", data, err)
	}
}

func TestFetchResultFailsOnMissingItem(t *testing.T) {
	fetcher := NewFetcher(FetcherOptions{HTTPClient: &http.Client{Transport: urlTransport{}}})
	_, err := fetcher.FetchResult(context.Background(), domain.Result{TaskID: "1", Items: []domain.ResultItem{{URL: "https://cdn.test/gone"}}})
	if err == nil {
		t.Fatalf("expected error for missing asset")
	}
}

func TestFetchEnforcesSizeLimit(t *testing.T) {
	fetcher := NewFetcher(FetcherOptions{
		MaxBytes:   3,
		HTTPClient: &http.Client{Transport: urlTransport{bodies: map[string]string{"https://cdn.test/big": "too large"}}},
	})
	if _, _, err := fetcher.Fetch(context.Background(), "https://cdn.test/big"); !errors.Is(err, ErrAssetTooLarge) {
		t.Fatalf("err = %v, want ErrAssetTooLarge", err)
	}
}
