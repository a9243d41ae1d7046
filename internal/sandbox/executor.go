// Package sandbox runs untrusted customizer scripts under a deadline and classifies their failures.
//
// Every run gets a fresh interpreter from the selected Engine, an explicit Capabilities
// allow-list, and a context bounded by the execution deadline. A run either returns the full
// claims object or a *ScriptError; partial results are never returned.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
)

// DefaultDeadline bounds evaluation plus invocation of a script.
const DefaultDeadline = 3 * time.Second

// Engine evaluates a script in a fresh isolated scope and invokes its entry point with input.
// Implementations must stop all work once ctx is done and return *ScriptError values.
type Engine interface {
	Runtime() customizer.Runtime
	Run(ctx context.Context, script string, input map[string]any, caps Capabilities) (map[string]any, error)
}

// Observer receives one call per finished execution.
type Observer interface {
	ObserveExecution(runtime customizer.Runtime, tokenType customizer.TokenKey, kind string, elapsed time.Duration)
}

// Executor dispatches payloads to engines.
type Executor struct {
	engines  map[customizer.Runtime]Engine
	deadline time.Duration
	caps     Capabilities
	observer Observer
	logger   *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithEngine registers an engine for its runtime.
func WithEngine(engine Engine) Option {
	return func(e *Executor) {
		e.engines[engine.Runtime()] = engine
	}
}

// WithDeadline sets the default execution deadline.
func WithDeadline(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.deadline = d
		}
	}
}

// WithCapabilities sets the capability allow-list given to every run.
func WithCapabilities(caps Capabilities) Option {
	return func(e *Executor) {
		e.caps = caps
	}
}

// WithObserver sets the execution observer, typically the metrics recorder.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		e.observer = o
	}
}

// WithLogHandler sets the log handler.
func WithLogHandler(h slog.Handler) Option {
	return func(e *Executor) {
		e.logger = slog.New(h)
	}
}

// NewExecutor returns an Executor. At least one engine must be registered.
func NewExecutor(opts ...Option) (*Executor, error) {
	e := &Executor{
		engines:  make(map[customizer.Runtime]Engine),
		deadline: DefaultDeadline,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if len(e.engines) == 0 {
		return nil, errors.New("executor needs at least one engine")
	}
	e.logger = e.logger.WithGroup("sandbox")
	return e, nil
}

// Deadline returns the default deadline.
func (e *Executor) Deadline() time.Duration {
	return e.deadline
}

// Runtimes lists the registered runtimes in sorted order.
func (e *Executor) Runtimes() []customizer.Runtime {
	out := make([]customizer.Runtime, 0, len(e.engines))
	for r := range e.engines {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Execute runs the payload under the default deadline.
func (e *Executor) Execute(ctx context.Context, p Payload) (map[string]any, error) {
	return e.ExecuteWithDeadline(ctx, p, e.deadline)
}

// ExecuteWithDeadline runs the payload and returns the claims object or a *ScriptError.
func (e *Executor) ExecuteWithDeadline(
	ctx context.Context,
	p Payload,
	deadline time.Duration,
) (map[string]any, error) {
	if deadline <= 0 {
		deadline = e.deadline
	}
	p.Runtime = p.Runtime.OrDefault()

	logger := e.logger.With(
		"executionID", newExecutionID(),
		"runtime", p.Runtime,
		"tokenType", p.TokenType,
	)

	start := time.Now()
	claims, err := e.execute(ctx, p, deadline)
	elapsed := time.Since(start)

	kind := KindName(err)
	if e.observer != nil {
		e.observer.ObserveExecution(p.Runtime, p.TokenType, kind, elapsed)
	}
	if err != nil {
		logger.Warn("Script execution failed", "kind", kind, "duration", elapsed, "error", err)
		return nil, err
	}
	logger.Debug("Script executed", "duration", elapsed, "claims", len(claims))
	return claims, nil
}

func (e *Executor) execute(ctx context.Context, p Payload, deadline time.Duration) (map[string]any, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	engine, ok := e.engines[p.Runtime]
	if !ok {
		return nil, NewScriptError(ErrInvalidInput, fmt.Sprintf("runtime %q is not enabled", p.Runtime))
	}

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	claims, err := e.runEngine(runCtx, engine, p.Script, p.Input())

	// Results that arrive after the deadline are discarded.
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, NewScriptError(ErrTimeout, fmt.Sprintf("script did not finish within %s", deadline)).
			WithCause(runCtx.Err())
	}
	if err != nil {
		var se *ScriptError
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, NewScriptError(ErrScriptRuntime, err.Error()).WithCause(err)
	}
	if claims == nil {
		return nil, NewScriptError(ErrInvalidResultShape, "entry point returned no object")
	}
	return claims, nil
}

func (e *Executor) runEngine(
	ctx context.Context,
	engine Engine,
	script string,
	input map[string]any,
) (claims map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Script engine panicked", "runtime", engine.Runtime(), "panic", r, "stack", string(debug.Stack()))
			claims = nil
			err = NewScriptError(ErrScriptRuntime, "script engine failure")
		}
	}()
	return engine.Run(ctx, script, input, e.caps)
}

func newExecutionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return ""
	}
	return id.String()
}
