// Package httpserver runs the service's HTTP handler under the process supervisor.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/robbyt/go-supervisor/runnables/httpserver"
	"github.com/robbyt/go-supervisor/supervisor"
)

var (
	_ supervisor.Runnable  = (*HTTPServer)(nil)
	_ supervisor.Stateable = (*HTTPServer)(nil)
)

// Timeouts for the listener. Zero values keep the supervisor defaults.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
	Drain time.Duration
}

type serverImplementation interface {
	Run(ctx context.Context) error
	Stop()
	GetState() string
	IsReady() bool
	GetStateChan(ctx context.Context) <-chan string
}

// HTTPServer serves one handler on one address. Every request passes through the access log.
type HTTPServer struct {
	address  string
	timeouts Timeouts
	logger   *slog.Logger
	server   serverImplementation
}

// Option configures an HTTPServer.
type Option func(*HTTPServer)

// WithTimeouts sets the listener timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(s *HTTPServer) {
		s.timeouts = t
	}
}

// WithLogHandler sets the handler for server and access logs.
func WithLogHandler(h slog.Handler) Option {
	return func(s *HTTPServer) {
		s.logger = slog.New(h)
	}
}

// New wraps handler in a supervisor runnable listening on address.
func New(address string, handler http.Handler, opts ...Option) (*HTTPServer, error) {
	if address == "" {
		return nil, errors.New("listen address is empty")
	}
	if handler == nil {
		return nil, errors.New("handler is nil")
	}

	s := &HTTPServer{
		address: address,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithGroup("httpserver")

	route, err := httpserver.NewRouteFromHandlerFunc(
		"customjwt",
		"/",
		handler.ServeHTTP,
		AccessLog(s.logger.WithGroup("http")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create route: %w", err)
	}

	runner, err := httpserver.NewRunner(httpserver.WithConfigCallback(func() (*httpserver.Config, error) {
		return httpserver.NewConfig(s.address, httpserver.Routes{*route}, s.configOptions()...)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP server runner: %w", err)
	}
	s.server = runner
	return s, nil
}

func (s *HTTPServer) configOptions() []httpserver.ConfigOption {
	var options []httpserver.ConfigOption
	if s.timeouts.Read > 0 {
		options = append(options, httpserver.WithReadTimeout(s.timeouts.Read))
	}
	if s.timeouts.Write > 0 {
		options = append(options, httpserver.WithWriteTimeout(s.timeouts.Write))
	}
	if s.timeouts.Idle > 0 {
		options = append(options, httpserver.WithIdleTimeout(s.timeouts.Idle))
	}
	if s.timeouts.Drain > 0 {
		options = append(options, httpserver.WithDrainTimeout(s.timeouts.Drain))
	}
	return options
}

func (s *HTTPServer) String() string {
	return fmt.Sprintf("HTTPServer[%s]", s.address)
}

// Run blocks until ctx is cancelled or Stop is called.
func (s *HTTPServer) Run(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", "address", s.address)
	return s.server.Run(ctx)
}

func (s *HTTPServer) Stop() {
	s.logger.Info("Stopping HTTP server", "address", s.address)
	s.server.Stop()
}

func (s *HTTPServer) GetState() string {
	return s.server.GetState()
}

// IsReady reports whether the listener has finished booting and is accepting requests.
func (s *HTTPServer) IsReady() bool {
	return s.server.IsReady()
}

func (s *HTTPServer) GetStateChan(ctx context.Context) <-chan string {
	return s.server.GetStateChan(ctx)
}

// Address returns the configured listen address.
func (s *HTTPServer) Address() string {
	return s.address
}
