// Package publisher pushes the deployment document to the remote execution host.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/atlanticdynamic/customjwt/internal/deployment"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// ErrRemote is returned when the remote host answers with a non-success status.
var ErrRemote = errors.New("remote host rejected request")

var (
	_ deployment.Publisher = (*HTTP)(nil)
	_ deployment.Publisher = Noop{}
)

// Noop is the self-hosted publisher: scripts run only in the local sandbox.
type Noop struct{}

func (Noop) Push(context.Context, deployment.Document) error { return nil }

func (Noop) Teardown(context.Context) error { return nil }

// HTTP publishes with PUT and tears down with DELETE against a single endpoint, authenticating
// with a bearer token.
type HTTP struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// Option configures an HTTP publisher.
type Option func(*HTTP)

// WithHTTPClient replaces the default authenticated client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTP) {
		if c != nil {
			p.client = c
		}
	}
}

// WithLogHandler sets the log handler.
func WithLogHandler(h slog.Handler) Option {
	return func(p *HTTP) {
		p.logger = slog.New(h)
	}
}

// NewHTTP returns a publisher for endpoint. token is sent as a bearer credential on every
// request unless WithHTTPClient supplies a client of its own.
func NewHTTP(endpoint, token string, opts ...Option) (*HTTP, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint: unsupported scheme %q", u.Scheme)
	}

	base := &http.Client{
		Timeout:   defaultTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	client.Timeout = defaultTimeout

	p := &HTTP{
		endpoint: u.String(),
		client:   client,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithGroup("publisher")
	return p, nil
}

// Push sends the whole document.
func (p *HTTP) Push(ctx context.Context, doc deployment.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	p.logger.Debug("Pushing document", "keys", len(doc))
	return p.do(ctx, http.MethodPut, bytes.NewReader(body))
}

// Teardown deletes the remote document. A 404 counts as already gone.
func (p *HTTP) Teardown(ctx context.Context) error {
	p.logger.Debug("Tearing down document")
	err := p.do(ctx, http.MethodDelete, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil
	}
	return err
}

// StatusError carries the remote status and a prefix of its body.
type StatusError struct {
	Method string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s returned %d: %s", ErrRemote, e.Method, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrRemote
}

func (p *HTTP) do(ctx context.Context, method string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, method, p.endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, p.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Method: method, Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
}
