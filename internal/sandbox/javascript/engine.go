// Package javascript runs customizer scripts on the goja ECMAScript engine.
//
// Each Run builds a new goja.Runtime holding only the ECMAScript builtins plus the capabilities
// granted for the call. The runtime is dropped when Run returns, so no globals survive between runs.
package javascript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dop251/goja"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/sandbox"
)

const (
	scriptName = "customizer.js"

	defaultMaxCallStackSize = 1024
)

var _ sandbox.Engine = (*Engine)(nil)

// Engine is the JavaScript sandbox engine.
type Engine struct {
	logger           *slog.Logger
	maxCallStackSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogHandler sets the log handler.
func WithLogHandler(h slog.Handler) Option {
	return func(e *Engine) {
		e.logger = slog.New(h)
	}
}

// WithMaxCallStackSize bounds script recursion depth.
func WithMaxCallStackSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxCallStackSize = n
		}
	}
}

// New returns a JavaScript engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:           slog.Default(),
		maxCallStackSize: defaultMaxCallStackSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithGroup("javascript")
	return e
}

func (e *Engine) Runtime() customizer.Runtime {
	return customizer.RuntimeJavaScript
}

// Run compiles the script, evaluates it in a fresh runtime and calls its entry point with input.
// Asynchronous entry points are awaited by draining the promise job queue.
func (e *Engine) Run(
	ctx context.Context,
	script string,
	input map[string]any,
	caps sandbox.Capabilities,
) (map[string]any, error) {
	program, err := goja.Compile(scriptName, script, false)
	if err != nil {
		return nil, compileError(err)
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(e.maxCallStackSize)

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(sandbox.ErrTimeout)
	})
	defer stop()

	if caps.Fetch != nil {
		if err := vm.Set("fetch", newFetchFunc(ctx, vm, caps.Fetch)); err != nil {
			return nil, fmt.Errorf("failed to install fetch: %w", err)
		}
	}

	if _, err := vm.RunProgram(program); err != nil {
		return nil, runtimeError(vm, err)
	}

	entry, ok := goja.AssertFunction(vm.Get(sandbox.EntryPoint))
	if !ok {
		return nil, sandbox.NewScriptError(sandbox.ErrEntryPointMissing, "")
	}

	arg, err := toJSValue(vm, input)
	if err != nil {
		return nil, fmt.Errorf("failed to convert payload: %w", err)
	}

	// The call drains the job queue before returning, so an awaited promise has settled
	// unless it waits on something that can never resolve.
	ret, err := entry(goja.Undefined(), arg)
	if err != nil {
		return nil, runtimeError(vm, err)
	}

	if p, ok := ret.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			ret = p.Result()
		case goja.PromiseStateRejected:
			return nil, thrownError(vm, p.Result(), "")
		default:
			e.logger.Debug("Entry point promise still pending after job queue drained")
			return nil, sandbox.NewScriptError(sandbox.ErrTimeout, "entry point returned a promise that never settled")
		}
	}

	return toClaims(vm, ret)
}

// toJSValue converts a Go JSON value into real JavaScript objects through JSON.parse, so
// scripts see plain objects and arrays rather than wrapped Go maps.
func toJSValue(vm *goja.Runtime, v any) (goja.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	parse, err := jsonFunc(vm, "parse")
	if err != nil {
		return nil, err
	}
	return parse(goja.Undefined(), vm.ToValue(string(data)))
}

func toClaims(vm *goja.Runtime, v goja.Value) (map[string]any, error) {
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Object" {
		return nil, sandbox.NewScriptError(sandbox.ErrInvalidResultShape, fmt.Sprintf("got %s", describe(v)))
	}

	stringify, err := jsonFunc(vm, "stringify")
	if err != nil {
		return nil, err
	}
	encoded, err := stringify(goja.Undefined(), obj)
	if err != nil {
		return nil, sandbox.NewScriptError(sandbox.ErrInvalidResultShape, "result is not JSON serializable").WithCause(err)
	}

	var claims map[string]any
	if err := json.Unmarshal([]byte(encoded.String()), &claims); err != nil || claims == nil {
		return nil, sandbox.NewScriptError(sandbox.ErrInvalidResultShape, "result is not a JSON object")
	}
	return claims, nil
}

func jsonFunc(vm *goja.Runtime, name string) (goja.Callable, error) {
	fn, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get(name))
	if !ok {
		return nil, fmt.Errorf("JSON.%s is not available", name)
	}
	return fn, nil
}

func describe(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(obj); isFn {
			return "function"
		}
		return obj.ClassName()
	}
	return v.ExportType().Kind().String()
}

func compileError(err error) error {
	se := sandbox.NewScriptError(sandbox.ErrScriptRuntime, err.Error()).WithCause(err)
	se.Syntax = true

	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(err, &syntaxErr) {
		se.Name = "SyntaxError"
		se.Message = syntaxErr.Message
	}
	return se
}

func runtimeError(vm *goja.Runtime, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return sandbox.NewScriptError(sandbox.ErrTimeout, "script interrupted at deadline").WithCause(err)
	}

	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		se := sandbox.NewScriptError(sandbox.ErrScriptRuntime, "Maximum call stack size exceeded").WithCause(err)
		se.Name = "RangeError"
		return se
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		return thrownError(vm, exc.Value(), exc.String())
	}
	return sandbox.NewScriptError(sandbox.ErrScriptRuntime, err.Error()).WithCause(err)
}

// thrownError classifies a thrown or rejected value. Error objects yield their name, message
// and stack; any other value is stringified.
func thrownError(vm *goja.Runtime, value goja.Value, trace string) error {
	obj, ok := value.(*goja.Object)
	if !ok || obj.ClassName() != "Error" {
		return sandbox.NewScriptError(sandbox.ErrScriptRuntime, stringify(vm, value))
	}

	se := sandbox.NewScriptError(sandbox.ErrScriptRuntime, propString(obj, "message"))
	se.Name = propString(obj, "name")
	se.Stack = propString(obj, "stack")
	if se.Stack == "" {
		se.Stack = trace
	}
	se.Syntax = se.Name == "SyntaxError" || se.Name == "TypeError"
	return se
}

func propString(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func stringify(vm *goja.Runtime, v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if fn, err := jsonFunc(vm, "stringify"); err == nil {
			if out, err := fn(goja.Undefined(), obj); err == nil && !goja.IsUndefined(out) {
				return out.String()
			}
		}
	}
	return v.String()
}
