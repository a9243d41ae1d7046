package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/http/httpguts"
)

const (
	DefaultMaxResponseBytes int64 = 1 << 20
	DefaultFetchTimeout           = 10 * time.Second
	DefaultUserAgent              = "customjwt-fetch/1"
)

// ErrFetch is returned for rejected or failed fetch calls.
var ErrFetch = errors.New("fetch failed")

// Capabilities is the explicit allow-list handed to a script run. A nil field means the
// capability is not exposed.
type Capabilities struct {
	Fetch *Fetcher
}

// FetchRequest is a script-issued HTTP request.
type FetchRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

// FetchResponse is the fully read response returned to the script.
type FetchResponse struct {
	URL        string
	Status     int
	StatusText string
	Headers    map[string]string
	Body       []byte
}

// OK reports a 2xx status.
func (r *FetchResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Fetcher performs outbound HTTP requests on behalf of scripts.
type Fetcher struct {
	client           *http.Client
	maxResponseBytes int64
	userAgent        string
}

// FetchOption configures a Fetcher.
type FetchOption func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) FetchOption {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithMaxResponseBytes caps how much of a response body is read.
func WithMaxResponseBytes(n int64) FetchOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxResponseBytes = n
		}
	}
}

// WithUserAgent sets the User-Agent sent when the script does not set one.
func WithUserAgent(ua string) FetchOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithTimeout bounds each request, independent of the execution deadline.
func WithTimeout(d time.Duration) FetchOption {
	return func(f *Fetcher) {
		if d > 0 {
			c := *f.client
			c.Timeout = d
			f.client = &c
		}
	}
}

// NewFetcher returns a Fetcher with an instrumented client.
func NewFetcher(opts ...FetchOption) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   DefaultFetchTimeout,
		},
		maxResponseBytes: DefaultMaxResponseBytes,
		userAgent:        DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Do sends the request and reads the whole response body. ctx bounds the call.
func (f *Fetcher) Do(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	httpReq, err := f.build(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrFetch, err)
	}
	if int64(len(body)) > f.maxResponseBytes {
		return nil, fmt.Errorf("%w: response body exceeds %d bytes", ErrFetch, f.maxResponseBytes)
	}

	headers := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}

	return &FetchResponse{
		URL:        resp.Request.URL.String(),
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    headers,
		Body:       body,
	}, nil
}

func (f *Fetcher) build(ctx context.Context, req FetchRequest) (*http.Request, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %w", ErrFetch, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrFetch, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: url has no host", ErrFetch)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !httpguts.ValidHeaderFieldName(method) {
		return nil, fmt.Errorf("%w: invalid method %q", ErrFetch, req.Method)
	}

	var body io.Reader
	if req.Body != "" {
		if method == http.MethodGet || method == http.MethodHead {
			return nil, fmt.Errorf("%w: %s request cannot have a body", ErrFetch, method)
		}
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	for name, value := range req.Headers {
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("%w: invalid header name %q", ErrFetch, name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, fmt.Errorf("%w: invalid value for header %q", ErrFetch, name)
		}
		httpReq.Header.Set(name, value)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}
	return httpReq, nil
}
