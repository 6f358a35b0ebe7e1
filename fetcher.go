package netpulse

import (
	"context"
	"encoding/json"

	"github.com/jpalmerr/netpulse/internal/poller"
)

// Fetcher retrieves the current payload of a task.
//
// Implementations must be safe for concurrent use: different tasks fetch
// concurrently. A returned error counts against the task's retry budget.
type Fetcher interface {
	Fetch(ctx context.Context, cfg TaskConfig) (json.RawMessage, error)
}

// FetcherFunc adapts a function to the [Fetcher] interface.
type FetcherFunc func(ctx context.Context, cfg TaskConfig) (json.RawMessage, error)

// Fetch calls f(ctx, cfg).
func (f FetcherFunc) Fetch(ctx context.Context, cfg TaskConfig) (json.RawMessage, error) {
	return f(ctx, cfg)
}

// HTTPFetcher is the default [Fetcher]: a JSON GET against the task URL
// honoring its timeout, headers and select path.
type HTTPFetcher struct {
	client *poller.Client
}

// NewHTTPFetcher creates an [HTTPFetcher] with a pooled HTTP transport.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{client: poller.NewClient()}
}

// Fetch performs the GET. Non-2xx responses and invalid JSON are returned
// as a *[FetchError].
func (f *HTTPFetcher) Fetch(ctx context.Context, cfg TaskConfig) (json.RawMessage, error) {
	res, err := f.client.FetchJSON(ctx, poller.Request{
		URL:     cfg.URL,
		Headers: cfg.Headers,
		Timeout: cfg.Timeout,
		Select:  cfg.Select,
	})
	if err != nil {
		return nil, err
	}
	return res.Payload, nil
}

// Close releases idle pooled connections.
func (f *HTTPFetcher) Close() {
	f.client.Close()
}
