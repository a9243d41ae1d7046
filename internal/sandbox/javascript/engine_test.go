package javascript

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/sandbox"
)

func run(t *testing.T, script string, input map[string]any) (map[string]any, error) {
	t.Helper()
	return New().Run(t.Context(), script, input, sandbox.Capabilities{})
}

func requireScriptError(t *testing.T, err error, kind error) *sandbox.ScriptError {
	t.Helper()
	require.ErrorIs(t, err, kind)
	var se *sandbox.ScriptError
	require.ErrorAs(t, err, &se)
	return se
}

func TestRun_Claims(t *testing.T) {
	tests := []struct {
		name   string
		script string
		input  map[string]any
		want   map[string]any
	}{
		{
			name:   "greeting",
			script: `function getCustomJwtClaims(p){return {greeting: 'hi ' + p.token.sub}}`,
			input:  map[string]any{"token": map[string]any{"sub": "u1"}},
			want:   map[string]any{"greeting": "hi u1"},
		},
		{
			name:   "async entry point",
			script: `async function getCustomJwtClaims({ token }) { const v = await Promise.resolve(token.n * 2); return { n: v } }`,
			input:  map[string]any{"token": map[string]any{"n": 21}},
			want:   map[string]any{"n": float64(42)},
		},
		{
			name:   "const arrow entry point",
			script: `const getCustomJwtClaims = (p) => ({ env: p.environmentVariables.REGION })`,
			input:  map[string]any{"token": map[string]any{}, "environmentVariables": map[string]any{"REGION": "eu"}},
			want:   map[string]any{"env": "eu"},
		},
		{
			name:   "nested values normalized",
			script: `function getCustomJwtClaims(){ return { roles: ['a', 'b'], meta: { ok: true }, skip: undefined } }`,
			input:  map[string]any{"token": map[string]any{}},
			want:   map[string]any{"roles": []any{"a", "b"}, "meta": map[string]any{"ok": true}},
		},
		{
			name:   "context available when passed",
			script: `function getCustomJwtClaims(p){ return { user: p.context.user.id } }`,
			input: map[string]any{
				"token":   map[string]any{},
				"context": map[string]any{"user": map[string]any{"id": "u9"}},
			},
			want: map[string]any{"user": "u9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, tt.script, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRun_EntryPointMissing(t *testing.T) {
	scripts := []string{
		`function somethingElse(){ return {} }`,
		`var getCustomJwtClaims = 42`,
		``,
		`function getCustomJWTClaims(){ return {} }`,
	}
	for _, script := range scripts {
		_, err := run(t, script, map[string]any{"token": map[string]any{}})
		requireScriptError(t, err, sandbox.ErrEntryPointMissing)
	}
}

func TestRun_InvalidResultShape(t *testing.T) {
	scripts := map[string]string{
		"string":    `function getCustomJwtClaims(){ return 'x' }`,
		"array":     `function getCustomJwtClaims(){ return [1, 2] }`,
		"null":      `function getCustomJwtClaims(){ return null }`,
		"undefined": `function getCustomJwtClaims(){}`,
		"number":    `async function getCustomJwtClaims(){ return 3 }`,
		"function":  `function getCustomJwtClaims(){ return function(){} }`,
		"date":      `function getCustomJwtClaims(){ return new Date() }`,
		"bigint":    `function getCustomJwtClaims(){ return { n: 10n } }`,
	}
	for name, script := range scripts {
		t.Run(name, func(t *testing.T) {
			_, err := run(t, script, map[string]any{"token": map[string]any{}})
			requireScriptError(t, err, sandbox.ErrInvalidResultShape)
		})
	}
}

func TestRun_RuntimeErrors(t *testing.T) {
	t.Run("syntax error is tagged", func(t *testing.T) {
		_, err := run(t, `function getCustomJwtClaims( { return {} }`, nil)
		se := requireScriptError(t, err, sandbox.ErrScriptRuntime)
		assert.True(t, se.Syntax)
		assert.Equal(t, "SyntaxError", se.Name)
		assert.Equal(t, 422, sandbox.HTTPStatus(err))
	})

	t.Run("type error is tagged", func(t *testing.T) {
		_, err := run(t, `function getCustomJwtClaims(p){ return p.token.missing.deeper }`, map[string]any{"token": map[string]any{}})
		se := requireScriptError(t, err, sandbox.ErrScriptRuntime)
		assert.True(t, se.Syntax)
		assert.Equal(t, "TypeError", se.Name)
	})

	t.Run("thrown error keeps message and stack", func(t *testing.T) {
		_, err := run(t, `function getCustomJwtClaims(){ throw new Error('no claims today') }`, map[string]any{"token": map[string]any{}})
		se := requireScriptError(t, err, sandbox.ErrScriptRuntime)
		assert.False(t, se.Syntax)
		assert.Equal(t, "Error", se.Name)
		assert.Equal(t, "no claims today", se.Message)
		assert.Contains(t, se.Stack, "customizer.js")
		assert.Equal(t, 500, sandbox.HTTPStatus(err))
	})

	t.Run("thrown non-error is stringified", func(t *testing.T) {
		_, err := run(t, `function getCustomJwtClaims(){ throw { code: 7 } }`, map[string]any{"token": map[string]any{}})
		se := requireScriptError(t, err, sandbox.ErrScriptRuntime)
		assert.JSONEq(t, `{"code":7}`, se.Message)
	})

	t.Run("thrown string", func(t *testing.T) {
		_, err := run(t, `function getCustomJwtClaims(){ throw 'nope' }`, map[string]any{"token": map[string]any{}})
		se := requireScriptError(t, err, sandbox.ErrScriptRuntime)
		assert.Equal(t, "nope", se.Message)
	})

	t.Run("rejected promise", func(t *testing.T) {
		_, err := run(t, `async function getCustomJwtClaims(){ throw new RangeError('too far') }`, map[string]any{"token": map[string]any{}})
		se := requireScriptError(t, err, sandbox.ErrScriptRuntime)
		assert.Equal(t, "RangeError", se.Name)
		assert.Equal(t, "too far", se.Message)
	})

	t.Run("error during evaluation", func(t *testing.T) {
		_, err := run(t, `throw new Error('top level'); function getCustomJwtClaims(){ return {} }`, nil)
		se := requireScriptError(t, err, sandbox.ErrScriptRuntime)
		assert.Equal(t, "top level", se.Message)
	})

	t.Run("stack overflow", func(t *testing.T) {
		_, err := New(WithMaxCallStackSize(64)).Run(t.Context(),
			`function f(){ return f() } function getCustomJwtClaims(){ return f() }`,
			map[string]any{"token": map[string]any{}}, sandbox.Capabilities{})
		se := requireScriptError(t, err, sandbox.ErrScriptRuntime)
		assert.Equal(t, "RangeError", se.Name)
	})
}

func TestRun_Timeout(t *testing.T) {
	t.Run("busy loop is interrupted", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := New().Run(ctx, `function getCustomJwtClaims(){ while (true) {} }`, map[string]any{"token": map[string]any{}}, sandbox.Capabilities{})
		requireScriptError(t, err, sandbox.ErrTimeout)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("loop during evaluation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()

		_, err := New().Run(ctx, `for (;;) {}`, nil, sandbox.Capabilities{})
		requireScriptError(t, err, sandbox.ErrTimeout)
	})

	t.Run("promise that never settles", func(t *testing.T) {
		_, err := run(t, `function getCustomJwtClaims(){ return new Promise(() => {}) }`, map[string]any{"token": map[string]any{}})
		requireScriptError(t, err, sandbox.ErrTimeout)
	})
}

func TestRun_Isolation(t *testing.T) {
	e := New()
	in := map[string]any{"token": map[string]any{}}

	_, err := e.Run(t.Context(), `globalThis.leaked = 1; function getCustomJwtClaims(){ return {} }`, in, sandbox.Capabilities{})
	require.NoError(t, err)

	got, err := e.Run(t.Context(), `function getCustomJwtClaims(){ return { leaked: typeof leaked } }`, in, sandbox.Capabilities{})
	require.NoError(t, err)
	assert.Equal(t, "undefined", got["leaked"])

	got, err = e.Run(t.Context(), `function getCustomJwtClaims(){
		return {
			require: typeof require,
			process: typeof process,
			console: typeof console,
			fetch: typeof fetch,
			setTimeout: typeof setTimeout,
		}
	}`, in, sandbox.Capabilities{})
	require.NoError(t, err)
	for name, typ := range got {
		assert.Equal(t, "undefined", typ, name)
	}
}

func TestRun_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/roles":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"roles":["admin"],"auth":"` + r.Header.Get("Authorization") + `"}`))
		case "/text":
			_, _ = w.Write([]byte("plain"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	caps := sandbox.Capabilities{Fetch: sandbox.NewFetcher(sandbox.WithHTTPClient(srv.Client()))}
	in := map[string]any{
		"token":                map[string]any{},
		"environmentVariables": map[string]any{"BASE": srv.URL, "KEY": "secret"},
	}

	t.Run("json response", func(t *testing.T) {
		script := `async function getCustomJwtClaims({ environmentVariables: env }) {
			const res = await fetch(env.BASE + '/roles', { headers: { Authorization: 'Bearer ' + env.KEY } });
			const body = await res.json();
			return { ok: res.ok, status: res.status, roles: body.roles, auth: body.auth, type: res.headers['content-type'] };
		}`
		got, err := New().Run(t.Context(), script, in, caps)
		require.NoError(t, err)
		assert.Equal(t, true, got["ok"])
		assert.Equal(t, float64(200), got["status"])
		assert.Equal(t, []any{"admin"}, got["roles"])
		assert.Equal(t, "Bearer secret", got["auth"])
		assert.Equal(t, "application/json", got["type"])
	})

	t.Run("text and status", func(t *testing.T) {
		script := `async function getCustomJwtClaims({ environmentVariables: env }) {
			const a = await fetch(env.BASE + '/text');
			const b = await fetch(env.BASE + '/missing');
			return { text: await a.text(), missing: b.status, ok: b.ok };
		}`
		got, err := New().Run(t.Context(), script, in, caps)
		require.NoError(t, err)
		assert.Equal(t, "plain", got["text"])
		assert.Equal(t, float64(404), got["missing"])
		assert.Equal(t, false, got["ok"])
	})

	t.Run("invalid json rejects", func(t *testing.T) {
		script := `async function getCustomJwtClaims({ environmentVariables: env }) {
			const res = await fetch(env.BASE + '/text');
			return await res.json();
		}`
		_, err := New().Run(t.Context(), script, in, caps)
		se := requireScriptError(t, err, sandbox.ErrScriptRuntime)
		assert.Equal(t, "SyntaxError", se.Name)
	})

	t.Run("disallowed scheme rejects with TypeError", func(t *testing.T) {
		script := `async function getCustomJwtClaims() {
			try {
				await fetch('file:///etc/passwd');
				return { caught: false };
			} catch (e) {
				return { caught: e instanceof TypeError };
			}
		}`
		got, err := New().Run(t.Context(), script, in, caps)
		require.NoError(t, err)
		assert.Equal(t, true, got["caught"])
	})
}

func TestEngine_WithExecutor(t *testing.T) {
	exec, err := sandbox.NewExecutor(sandbox.WithEngine(New()), sandbox.WithDeadline(100*time.Millisecond))
	require.NoError(t, err)

	script := `function getCustomJwtClaims(p){ return { hasContext: 'context' in p } }`

	got, err := exec.Execute(t.Context(), sandbox.Payload{
		Script:    script,
		TokenType: customizer.IDToken,
		Token:     map[string]any{"sub": "u1"},
		Context:   map[string]any{"user": map[string]any{"id": "u1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, false, got["hasContext"])

	got, err = exec.Execute(t.Context(), sandbox.Payload{
		Script:    script,
		TokenType: customizer.AccessToken,
		Token:     map[string]any{"sub": "u1"},
		Context:   map[string]any{"user": map[string]any{"id": "u1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, true, got["hasContext"])

	_, err = exec.Execute(t.Context(), sandbox.Payload{
		Script:    `function getCustomJwtClaims(){ for(;;){} }`,
		TokenType: customizer.IDToken,
		Token:     map[string]any{},
	})
	require.ErrorIs(t, err, sandbox.ErrTimeout)
	assert.Equal(t, 504, sandbox.HTTPStatus(err))
}
