package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBodySize = 1 << 20 // 1MB

const defaultTimeout = 10 * time.Second

// connection pooling limits to prevent resource exhaustion when polling many feeds
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

var (
	// ErrHTTPStatus indicates the backend answered with a non-2xx status.
	ErrHTTPStatus = errors.New("unexpected http status")

	// ErrInvalidJSON indicates the response body is not valid JSON.
	ErrInvalidJSON = errors.New("response is not valid json")

	// ErrPathNotFound indicates a select path does not exist in the payload.
	ErrPathNotFound = errors.New("select path not found")
)

// FetchError describes a failed fetch of one URL.
//
// StatusCode is zero when the request failed before a response arrived.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Request describes a single JSON GET.
type Request struct {
	// URL is the endpoint to GET.
	URL string

	// Headers are sent with the request.
	Headers map[string]string

	// Timeout bounds the whole request. Zero means 10 seconds.
	Timeout time.Duration

	// Select is an optional dotted path narrowing the returned payload,
	// e.g. "data.items.0". Empty returns the whole body.
	Select string
}

// Result holds a successfully fetched payload.
type Result struct {
	// Payload is the (possibly narrowed) JSON document.
	Payload json.RawMessage

	// StatusCode is the HTTP status code returned by the backend.
	StatusCode int

	// Latency is the total time taken for the request.
	Latency time.Duration
}

// Client is an HTTP client wrapper for polling JSON endpoints.
//
// Client uses per-request timeouts via context rather than a global timeout,
// allowing different feeds to have different timeout configurations.
// Response bodies are limited to 1MB.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new polling [Client] with a pooled transport.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			// no default timeout - we use per-request timeouts via context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
	}
}

// FetchJSON performs a GET and returns the parsed JSON payload.
//
// Transport failures, non-2xx statuses, bodies that are not valid JSON and
// missing select paths are all reported as a *[FetchError]. The latency of
// failed requests is not reported.
func (c *Client) FetchJSON(ctx context.Context, req Request) (Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Result{}, &FetchError{URL: req.URL, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Accept", "application/json")
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, &FetchError{URL: req.URL, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Result{}, &FetchError{
			URL:        req.URL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to read response body: %w", err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &FetchError{URL: req.URL, StatusCode: resp.StatusCode, Err: ErrHTTPStatus}
	}

	if !json.Valid(body) {
		return Result{}, &FetchError{URL: req.URL, StatusCode: resp.StatusCode, Err: ErrInvalidJSON}
	}

	payload := json.RawMessage(body)
	if req.Select != "" {
		payload, err = SelectPath(body, req.Select)
		if err != nil {
			return Result{}, &FetchError{URL: req.URL, StatusCode: resp.StatusCode, Err: err}
		}
	}

	return Result{
		Payload:    payload,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}, nil
}

// Close closes all idle connections in the client's connection pool.
//
// Safe to call multiple times. After Close, the client remains usable but
// new connections will be established as needed.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
