// Package attachment resolves campaign attachment descriptors into
// sendable payloads.
package attachment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Descriptor describes one attachment as supplied by the caller. Exactly
// one of Data and URL is set: inline bytes are used as-is, a URL is
// fetched at resolution time.
type Descriptor struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`

	// Required makes a fetch failure abort the whole resolution instead
	// of dropping this attachment.
	Required bool `json:"required,omitempty"`
}

// Resolved is a sendable attachment payload.
type Resolved struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Fetcher retrieves remote attachment bytes. *HTTPFetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Resolver resolves descriptors for one campaign invocation. Remote URLs
// are fetched at most once and cached for the lifetime of the resolver;
// callers construct a fresh resolver per invocation so no bytes leak
// across campaigns. Not safe for concurrent use; the send loop that owns
// it is sequential.
type Resolver struct {
	fetcher Fetcher
	logger  *slog.Logger
	cache   map[string][]byte
}

// NewResolver creates a resolver scoped to one campaign invocation.
func NewResolver(fetcher Fetcher, logger *slog.Logger) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		logger:  logger,
		cache:   make(map[string][]byte),
	}
}

// Resolve turns descriptors into sendable payloads. A fetch failure for a
// Required descriptor fails the resolution; otherwise the descriptor is
// dropped with a warning and the remaining attachments are returned.
func (r *Resolver) Resolve(ctx context.Context, descriptors []Descriptor) ([]Resolved, error) {
	resolved := make([]Resolved, 0, len(descriptors))

	for _, d := range descriptors {
		if len(d.Data) > 0 {
			resolved = append(resolved, Resolved{Name: d.Name, MIMEType: d.MIMEType, Data: d.Data})
			continue
		}

		if d.URL == "" {
			return nil, fmt.Errorf("attachment %q has neither data nor url", d.Name)
		}

		data, err := r.fetch(ctx, d.URL)
		if err != nil {
			if d.Required {
				return nil, fmt.Errorf("fetch required attachment %q: %w", d.Name, err)
			}
			r.logger.Warn("dropping optional attachment", "name", d.Name, "url", d.URL, "error", err)
			continue
		}

		resolved = append(resolved, Resolved{Name: d.Name, MIMEType: d.MIMEType, Data: data})
	}

	return resolved, nil
}

// Clear drops the cache. The orchestrator calls it when the invocation
// ends; it is also a convenience for callers that reuse a resolver in
// tests.
func (r *Resolver) Clear() {
	r.cache = make(map[string][]byte)
}

func (r *Resolver) fetch(ctx context.Context, url string) ([]byte, error) {
	if data, ok := r.cache[url]; ok {
		return data, nil
	}

	data, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	r.cache[url] = data
	return data, nil
}

// HTTPFetcher fetches attachment bytes over HTTP.
type HTTPFetcher struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewHTTPFetcher creates an HTTP fetcher. maxBytes of zero means 25 MiB,
// the common provider attachment ceiling.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	return &HTTPFetcher{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
	}
}

// Fetch downloads url, refusing oversized bodies.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("attachment exceeds %d bytes", f.maxBytes)
	}

	return data, nil
}
