// Package api serves the customizer HTTP API: script dry runs, customizer administration,
// deployment history, token issuance, key discovery and metrics.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/atlanticdynamic/customjwt/internal/deployment"
	"github.com/atlanticdynamic/customjwt/internal/issuer"
	"github.com/atlanticdynamic/customjwt/internal/sandbox/dryrun"
	"github.com/atlanticdynamic/customjwt/internal/store"
)

// maxBodyBytes bounds request bodies. Scripts and samples are small.
const maxBodyBytes = 1 << 20

// API holds the collaborators behind each route.
type API struct {
	dryRun      *dryrun.Runner
	customizers store.CustomizerStore
	deployer    *deployment.Deployer
	issuer      *issuer.Issuer
	metrics     http.Handler
	mcpPath     string
	mcp         http.Handler
	logger      *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithIssuer enables the token and JWKS routes.
func WithIssuer(i *issuer.Issuer) Option {
	return func(a *API) {
		a.issuer = i
	}
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *API) {
		a.metrics = h
	}
}

// WithMCPHandler mounts an MCP endpoint at path.
func WithMCPHandler(path string, h http.Handler) Option {
	return func(a *API) {
		a.mcpPath = path
		a.mcp = h
	}
}

// WithLogHandler sets the log handler.
func WithLogHandler(h slog.Handler) Option {
	return func(a *API) {
		a.logger = slog.New(h)
	}
}

// New returns an API. The dry-run runner, customizer store and deployer are required.
func New(
	dryRun *dryrun.Runner,
	customizers store.CustomizerStore,
	deployer *deployment.Deployer,
	opts ...Option,
) (*API, error) {
	if dryRun == nil || customizers == nil || deployer == nil {
		return nil, errors.New("api requires a dry-run runner, a customizer store and a deployer")
	}
	a := &API{
		dryRun:      dryRun,
		customizers: customizers,
		deployer:    deployer,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithGroup("api")
	return a, nil
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/jwt-customizer/test", a.handleTest)
	mux.HandleFunc("GET /api/jwt-customizer", a.handleListCustomizers)
	mux.HandleFunc("GET /api/jwt-customizer/{tokenType}", a.handleGetCustomizer)
	mux.HandleFunc("PUT /api/jwt-customizer/{tokenType}/{useCase}", a.handleDeploy)
	mux.HandleFunc("DELETE /api/jwt-customizer/{tokenType}", a.handleUndeploy)
	mux.HandleFunc("GET /api/deployments", a.handleListDeployments)
	mux.HandleFunc("GET /api/deployments/{id}", a.handleGetDeployment)
	mux.HandleFunc("GET /healthz", a.handleHealth)

	if a.issuer != nil {
		mux.HandleFunc("POST /api/token/{tokenType}", a.handleIssue)
		mux.HandleFunc("GET /.well-known/jwks.json", a.handleJWKS)
	}
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics)
	}
	if a.mcp != nil {
		mux.Handle(a.mcpPath, a.mcp)
	}

	return otelhttp.NewHandler(mux, "customjwt",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			if r.Pattern != "" {
				return r.Pattern
			}
			return r.Method + " " + r.URL.Path
		}),
	)
}
