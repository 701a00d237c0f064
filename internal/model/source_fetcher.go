package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// SourceFetcher retrieves and parses a ToolConfig published at source_url
// (spec.md §4.1 para 2). Fetch failure must fail the consuming operation
// with a bad-request condition, handled by the caller inspecting the
// returned error.
type SourceFetcher interface {
	FetchAndParse(ctx context.Context, url string) (ToolConfig, []string, error)
}

type cachedSource struct {
	etag   string
	config ToolConfig
	warn   []string
}

// HTTPSourceFetcher fetches source_url over net/http and parses it with the
// same two-pass YAML decode/validate pipeline used for stored configs. An
// LRU keyed by URL keeps each document's ETag and parsed config; every call
// still issues a GET (conditional on that ETag), and only a 304 response
// reuses the cached parse.
type HTTPSourceFetcher struct {
	client *http.Client
	cache  *lru.Cache[string, cachedSource]
}

// NewHTTPSourceFetcher constructs a fetcher with a bounded LRU of the given
// size.
func NewHTTPSourceFetcher(client *http.Client, cacheSize int) (*HTTPSourceFetcher, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	cache, err := lru.New[string, cachedSource](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("model: building source cache: %w", err)
	}
	return &HTTPSourceFetcher{client: client, cache: cache}, nil
}

func (f *HTTPSourceFetcher) FetchAndParse(ctx context.Context, url string) (ToolConfig, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ToolConfig{}, nil, fmt.Errorf("source_url: building request: %w", err)
	}
	if cached, ok := f.cache.Get(url); ok && cached.etag != "" {
		req.Header.Set("If-None-Match", cached.etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return ToolConfig{}, nil, fmt.Errorf("source_url: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if cached, ok := f.cache.Get(url); ok {
			return cached.config, cached.warn, nil
		}
	}
	if resp.StatusCode != http.StatusOK {
		return ToolConfig{}, nil, fmt.Errorf("source_url: %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ToolConfig{}, nil, fmt.Errorf("source_url: reading body: %w", err)
	}

	cfg, warnings, err := DecodeToolConfigYAML(body)
	if err != nil {
		return ToolConfig{}, nil, fmt.Errorf("source_url: parsing %s: %w", url, err)
	}
	if verrs := ValidateToolConfig(cfg); len(verrs) > 0 {
		return ToolConfig{}, nil, fmt.Errorf("source_url: %s failed validation: %v", url, verrs)
	}

	f.cache.Add(url, cachedSource{etag: resp.Header.Get("ETag"), config: cfg, warn: warnings})
	return cfg, warnings, nil
}
