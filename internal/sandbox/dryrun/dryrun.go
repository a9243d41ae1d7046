// Package dryrun executes a candidate customizer script without deploying it. Token and context
// missing from a request are filled from the samples stored with the token type's entry.
package dryrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/sandbox"
	"github.com/atlanticdynamic/customjwt/internal/store"
)

// Request is a script to try against a token and, for access tokens, a user context.
type Request struct {
	TokenType            customizer.TokenKey `json:"tokenType"            jsonschema:"jwt.accessToken, jwt.clientCredentials or jwt.idToken"`
	Script               string              `json:"script"               jsonschema:"source defining getCustomJwtClaims"`
	Runtime              customizer.Runtime  `json:"runtime,omitempty"    jsonschema:"javascript (default) or starlark"`
	Token                map[string]any      `json:"token,omitempty"      jsonschema:"draft token claims; the stored sample is used when omitted"`
	Context              map[string]any      `json:"context,omitempty"    jsonschema:"user context for access tokens; the stored sample is used when omitted"`
	EnvironmentVariables map[string]string   `json:"environmentVariables,omitempty" jsonschema:"values exposed to the script as environmentVariables"`
}

// Runner runs dry-run requests through an executor.
type Runner struct {
	executor *sandbox.Executor
	samples  store.CustomizerStore
	logger   *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithSamples sets the store samples are read from. Without one, requests must be complete.
func WithSamples(s store.CustomizerStore) Option {
	return func(r *Runner) {
		r.samples = s
	}
}

// WithLogHandler sets the log handler.
func WithLogHandler(h slog.Handler) Option {
	return func(r *Runner) {
		r.logger = slog.New(h)
	}
}

// New returns a Runner backed by executor.
func New(executor *sandbox.Executor, opts ...Option) (*Runner, error) {
	if executor == nil {
		return nil, errors.New("dry run requires an executor")
	}
	r := &Runner{executor: executor, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithGroup("dryrun")
	return r, nil
}

// Run executes the request and returns the claims the script produced.
func (r *Runner) Run(ctx context.Context, req Request) (map[string]any, error) {
	if err := r.fillSamples(ctx, &req); err != nil {
		return nil, err
	}
	return r.executor.Execute(ctx, sandbox.Payload{
		Script:               req.Script,
		Runtime:              req.Runtime,
		TokenType:            req.TokenType,
		Token:                req.Token,
		Context:              req.Context,
		EnvironmentVariables: req.EnvironmentVariables,
	})
}

func (r *Runner) fillSamples(ctx context.Context, req *Request) error {
	needContext := req.TokenType.ExposesUserContext() && req.Context == nil
	if r.samples == nil || (req.Token != nil && !needContext) {
		return nil
	}
	if req.TokenType.Validate() != nil {
		return nil
	}

	entry, err := r.samples.GetCustomizer(ctx, req.TokenType)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("failed to load samples for %s: %w", req.TokenType, err)
	}

	if req.Token == nil && entry.TokenSample != nil {
		req.Token = entry.TokenSample
		r.logger.Debug("Using stored token sample", "tokenType", req.TokenType)
	}
	if needContext && entry.ContextSample != nil {
		req.Context = entry.ContextSample
		r.logger.Debug("Using stored context sample", "tokenType", req.TokenType)
	}
	return nil
}
