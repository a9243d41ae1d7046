package javascript

import (
	"context"
	"errors"

	"github.com/dop251/goja"

	"github.com/atlanticdynamic/customjwt/internal/sandbox"
)

// newFetchFunc returns the script-visible fetch(url, init?) function. The request runs on the
// calling goroutine, bounded by ctx, and the returned promise is already settled, so awaiting
// it works without an event loop.
func newFetchFunc(ctx context.Context, vm *goja.Runtime, fetcher *sandbox.Fetcher) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := vm.NewPromise()

		req, err := fetchRequest(call)
		if err != nil {
			settle(reject(vm.NewTypeError(err.Error())))
			return vm.ToValue(promise)
		}

		resp, err := fetcher.Do(ctx, req)
		if err != nil {
			settle(reject(vm.NewTypeError(err.Error())))
			return vm.ToValue(promise)
		}

		settle(resolve(responseObject(vm, resp)))
		return vm.ToValue(promise)
	}
}

// settle propagates uncatchable errors (interrupts) returned by promise resolving functions.
func settle(err error) {
	if err != nil {
		panic(err)
	}
}

func fetchRequest(call goja.FunctionCall) (sandbox.FetchRequest, error) {
	target := call.Argument(0)
	if goja.IsUndefined(target) || goja.IsNull(target) {
		return sandbox.FetchRequest{}, errors.New("fetch requires a url")
	}
	req := sandbox.FetchRequest{URL: target.String()}

	init, ok := call.Argument(1).(*goja.Object)
	if !ok {
		return req, nil
	}
	if v := init.Get("method"); v != nil && !goja.IsUndefined(v) {
		req.Method = v.String()
	}
	if v := init.Get("body"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		req.Body = v.String()
	}
	if headers, ok := init.Get("headers").(*goja.Object); ok {
		req.Headers = make(map[string]string)
		for _, name := range headers.Keys() {
			req.Headers[name] = headers.Get(name).String()
		}
	}
	return req, nil
}

func responseObject(vm *goja.Runtime, resp *sandbox.FetchResponse) *goja.Object {
	headers := vm.NewObject()
	for name, value := range resp.Headers {
		_ = headers.Set(name, value)
	}

	body := string(resp.Body)
	obj := vm.NewObject()
	_ = obj.Set("ok", resp.OK())
	_ = obj.Set("status", resp.Status)
	_ = obj.Set("statusText", resp.StatusText)
	_ = obj.Set("url", resp.URL)
	_ = obj.Set("headers", headers)
	_ = obj.Set("text", func(goja.FunctionCall) goja.Value {
		p, resolve, _ := vm.NewPromise()
		settle(resolve(body))
		return vm.ToValue(p)
	})
	_ = obj.Set("json", func(goja.FunctionCall) goja.Value {
		p, resolve, reject := vm.NewPromise()
		parse, err := jsonFunc(vm, "parse")
		if err != nil {
			settle(reject(vm.NewGoError(err)))
			return vm.ToValue(p)
		}
		v, err := parse(goja.Undefined(), vm.ToValue(body))
		var (
			exc         *goja.Exception
			interrupted *goja.InterruptedError
		)
		switch {
		case errors.As(err, &interrupted):
			panic(interrupted)
		case errors.As(err, &exc):
			settle(reject(exc.Value()))
		case err != nil:
			settle(reject(vm.NewGoError(err)))
		default:
			settle(resolve(v))
		}
		return vm.ToValue(p)
	})
	return obj
}
