// Package starlark runs customizer scripts written in Starlark through go-polyscript.
//
// A script defines getCustomJwtClaims(payload) and returns a dict. The engine appends a call to
// the entry point, compiles the result with polyscript and evaluates it with the payload placed
// in the evaluation context. Starlark scripts get no network capability.
package starlark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	polystarlark "github.com/robbyt/go-polyscript/engines/starlark"
	"github.com/robbyt/go-polyscript/platform"
	"github.com/robbyt/go-polyscript/platform/constants"
	"github.com/robbyt/go-polyscript/platform/data"
	"github.com/robbyt/go-polyscript/platform/script/loader"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/sandbox"
)

const scriptName = "customizer.star"

// notCallable is raised by the trailer when the entry point is bound to something other than a
// function.
const notCallable = "customjwt: entry point is not callable"

// The payload is published under ctx["data"] by some polyscript providers and at the top level
// by others; the trailer accepts either.
const trailer = "\n\n_ = " + sandbox.EntryPoint + "(ctx.get(\"data\", ctx)) if type(" + sandbox.EntryPoint +
	") in (\"function\", \"builtin_function_or_method\") else fail(\"" + notCallable + "\")\n"

var unassignedEntryPoint = "global variable " + sandbox.EntryPoint + " referenced before assignment"

var _ sandbox.Engine = (*Engine)(nil)

// parseOptions match the dialect polyscript compiles: top-level names may be rebound, if and
// for are only allowed inside functions, and while is unavailable.
var parseOptions = &syntax.FileOptions{
	GlobalReassign: true,
}

// Engine is the Starlark sandbox engine.
type Engine struct {
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogHandler sets the log handler passed to polyscript.
func WithLogHandler(h slog.Handler) Option {
	return func(e *Engine) {
		e.logger = slog.New(h)
	}
}

// New returns a Starlark engine.
func New(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithGroup("starlark")
	return e
}

func (e *Engine) Runtime() customizer.Runtime {
	return customizer.RuntimeStarlark
}

// Run compiles the script with a call to its entry point appended and evaluates it. Evaluation
// happens on a separate goroutine so the deadline is honored even if the interpreter ignores
// cancellation.
func (e *Engine) Run(
	ctx context.Context,
	script string,
	input map[string]any,
	_ sandbox.Capabilities,
) (map[string]any, error) {
	if err := checkEntryPoint(script); err != nil {
		return nil, err
	}

	l, err := loader.NewFromString(script + trailer)
	if err != nil {
		return nil, fmt.Errorf("failed to create script loader: %w", err)
	}

	evaluator, err := polystarlark.FromStarlarkLoader(e.logger.Handler(), l)
	if err != nil {
		return nil, compileError(err)
	}

	evalCtx, err := data.NewContextProvider(constants.EvalData).AddDataToContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to add payload to eval context: %w", err)
	}

	type outcome struct {
		resp platform.EvaluatorResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("starlark evaluator panic: %v", r)}
			}
		}()
		resp, err := evaluator.Eval(evalCtx)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		e.logger.Debug("Starlark evaluation abandoned at deadline")
		return nil, sandbox.NewScriptError(sandbox.ErrTimeout, "script interrupted at deadline").WithCause(ctx.Err())
	case out := <-done:
		if out.err != nil {
			if ctx.Err() != nil {
				return nil, sandbox.NewScriptError(sandbox.ErrTimeout, "script interrupted at deadline").WithCause(out.err)
			}
			if isEntryPointMissing(out.err) {
				return nil, sandbox.NewScriptError(sandbox.ErrEntryPointMissing, "").WithCause(out.err)
			}
			return nil, runtimeError(out.err)
		}
		if out.resp == nil {
			return nil, sandbox.NewScriptError(sandbox.ErrInvalidResultShape, "got None")
		}
		return toClaims(out.resp.Interface())
	}
}

// checkEntryPoint parses the script and requires the entry point to be one of its globals.
// Whether the binding holds something callable is checked by the trailer at run time.
func checkEntryPoint(script string) error {
	f, err := parseOptions.Parse(scriptName, script, 0)
	if err != nil {
		return syntaxError(err)
	}
	// Treating every free name as predeclared leaves only the script's own bindings as globals.
	// Resolve errors, such as top-level control flow, are reported by the compiler.
	_ = resolve.File(f, func(string) bool { return true }, starlark.Universe.Has)
	if m, ok := f.Module.(*resolve.Module); ok {
		for _, b := range m.Globals {
			if b.First != nil && b.First.Name == sandbox.EntryPoint {
				return nil
			}
		}
	}
	return sandbox.NewScriptError(sandbox.ErrEntryPointMissing, "")
}

func isEntryPointMissing(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, notCallable) || strings.Contains(msg, unassignedEntryPoint)
}

func toClaims(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, sandbox.NewScriptError(sandbox.ErrInvalidResultShape, "got "+describe(v))
	}
	// Round-trip through a protobuf Struct so every value is a plain JSON type.
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, sandbox.NewScriptError(sandbox.ErrInvalidResultShape, "result is not JSON serializable").WithCause(err)
	}
	return s.AsMap(), nil
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "None"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int32, int64, uint, uint32, uint64:
		return "int"
	case float32, float64:
		return "float"
	case []any:
		return "list"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func syntaxError(err error) error {
	se := sandbox.NewScriptError(sandbox.ErrScriptRuntime, err.Error()).WithCause(err)
	se.Syntax = true
	se.Name = "SyntaxError"

	var serr syntax.Error
	if errors.As(err, &serr) {
		se.Message = serr.Msg
		se.Stack = serr.Pos.String()
	}
	return se
}

// compileError classifies errors raised while polyscript compiles the script. Parse errors were
// caught earlier, so these are normally resolver errors such as undefined names.
func compileError(err error) error {
	var serr syntax.Error
	if errors.As(err, &serr) {
		return syntaxError(err)
	}

	se := sandbox.NewScriptError(sandbox.ErrScriptRuntime, err.Error()).WithCause(err)
	se.Syntax = true
	se.Name = "SyntaxError"

	var resolveErrs resolve.ErrorList
	if errors.As(err, &resolveErrs) && len(resolveErrs) > 0 {
		se.Name = "ResolveError"
		se.Message = resolveErrs[0].Msg
		lines := make([]string, 0, len(resolveErrs))
		for _, re := range resolveErrs {
			lines = append(lines, re.Pos.String()+": "+re.Msg)
		}
		se.Stack = strings.Join(lines, "\n")
	}
	return se
}

func runtimeError(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		se := sandbox.NewScriptError(sandbox.ErrScriptRuntime, evalErr.Msg).WithCause(err)
		se.Name = "Error"
		se.Stack = evalErr.Backtrace()
		return se
	}
	return sandbox.NewScriptError(sandbox.ErrScriptRuntime, err.Error()).WithCause(err)
}
