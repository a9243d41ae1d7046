package sandbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
)

type fakeEngine struct {
	runtime customizer.Runtime
	run     func(ctx context.Context, script string, input map[string]any) (map[string]any, error)

	mu     sync.Mutex
	inputs []map[string]any
}

func (f *fakeEngine) Runtime() customizer.Runtime {
	return f.runtime
}

func (f *fakeEngine) Run(
	ctx context.Context,
	script string,
	input map[string]any,
	_ Capabilities,
) (map[string]any, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()
	return f.run(ctx, script, input)
}

type kindObserver struct {
	mu    sync.Mutex
	kinds []string
}

func (o *kindObserver) ObserveExecution(_ customizer.Runtime, _ customizer.TokenKey, kind string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
}

func accessPayload() Payload {
	return Payload{
		Script:               "function getCustomJwtClaims() { return {} }",
		TokenType:            customizer.AccessToken,
		Token:                map[string]any{"sub": "u1"},
		Context:              map[string]any{"user": map[string]any{"id": "u1"}},
		EnvironmentVariables: map[string]string{"K": "v"},
	}
}

func newTestExecutor(t *testing.T, engine *fakeEngine, opts ...Option) *Executor {
	t.Helper()
	e, err := NewExecutor(append([]Option{WithEngine(engine)}, opts...)...)
	require.NoError(t, err)
	return e
}

func TestNewExecutor_RequiresEngine(t *testing.T) {
	_, err := NewExecutor()
	require.Error(t, err)
}

func TestExecute_Success(t *testing.T) {
	obs := &kindObserver{}
	engine := &fakeEngine{
		runtime: customizer.RuntimeJavaScript,
		run: func(_ context.Context, _ string, input map[string]any) (map[string]any, error) {
			token := input["token"].(map[string]any)
			return map[string]any{"greeting": "hi " + token["sub"].(string)}, nil
		},
	}
	e := newTestExecutor(t, engine, WithObserver(obs))

	claims, err := e.Execute(t.Context(), accessPayload())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"greeting": "hi u1"}, claims)
	assert.Equal(t, []string{"ok"}, obs.kinds)
	assert.Equal(t, []customizer.Runtime{customizer.RuntimeJavaScript}, e.Runtimes())
	assert.Equal(t, DefaultDeadline, e.Deadline())
}

func TestExecute_ContextOmittedForNonAccessTokens(t *testing.T) {
	engine := &fakeEngine{
		runtime: customizer.RuntimeJavaScript,
		run: func(context.Context, string, map[string]any) (map[string]any, error) {
			return map[string]any{}, nil
		},
	}
	e := newTestExecutor(t, engine)

	for _, key := range []customizer.TokenKey{customizer.ClientCredentials, customizer.IDToken} {
		p := accessPayload()
		p.TokenType = key
		_, err := e.Execute(t.Context(), p)
		require.NoError(t, err)
	}
	_, err := e.Execute(t.Context(), accessPayload())
	require.NoError(t, err)

	require.Len(t, engine.inputs, 3)
	assert.NotContains(t, engine.inputs[0], "context")
	assert.NotContains(t, engine.inputs[1], "context")
	assert.Contains(t, engine.inputs[2], "context")
	assert.Equal(t, map[string]any{"K": "v"}, engine.inputs[2]["environmentVariables"])
}

func TestExecute_Timeout(t *testing.T) {
	obs := &kindObserver{}
	engine := &fakeEngine{
		runtime: customizer.RuntimeJavaScript,
		run: func(ctx context.Context, _ string, _ map[string]any) (map[string]any, error) {
			<-ctx.Done()
			return map[string]any{"late": true}, nil
		},
	}
	e := newTestExecutor(t, engine, WithDeadline(20*time.Millisecond), WithObserver(obs))

	claims, err := e.Execute(t.Context(), accessPayload())
	require.ErrorIs(t, err, ErrTimeout)
	assert.Nil(t, claims)
	assert.Equal(t, []string{"timeout"}, obs.kinds)
}

func TestExecute_ExplicitDeadline(t *testing.T) {
	engine := &fakeEngine{
		runtime: customizer.RuntimeJavaScript,
		run: func(ctx context.Context, _ string, _ map[string]any) (map[string]any, error) {
			select {
			case <-ctx.Done():
				return nil, NewScriptError(ErrScriptRuntime, "interrupted")
			case <-time.After(50 * time.Millisecond):
				return map[string]any{"ok": true}, nil
			}
		},
	}
	e := newTestExecutor(t, engine, WithDeadline(time.Millisecond))

	claims, err := e.ExecuteWithDeadline(t.Context(), accessPayload(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, true, claims["ok"])

	_, err = e.ExecuteWithDeadline(t.Context(), accessPayload(), 5*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestExecute_Classification(t *testing.T) {
	tests := []struct {
		name    string
		run     func() (map[string]any, error)
		wantErr error
	}{
		{
			name:    "script error passes through",
			run:     func() (map[string]any, error) { return nil, NewScriptError(ErrEntryPointMissing, "") },
			wantErr: ErrEntryPointMissing,
		},
		{
			name:    "plain error becomes runtime error",
			run:     func() (map[string]any, error) { return nil, errors.New("kaboom") },
			wantErr: ErrScriptRuntime,
		},
		{
			name:    "nil claims",
			run:     func() (map[string]any, error) { return nil, nil },
			wantErr: ErrInvalidResultShape,
		},
		{
			name:    "panic is recovered",
			run:     func() (map[string]any, error) { panic("engine bug") },
			wantErr: ErrScriptRuntime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{
				runtime: customizer.RuntimeJavaScript,
				run: func(context.Context, string, map[string]any) (map[string]any, error) {
					return tt.run()
				},
			}
			e := newTestExecutor(t, engine)
			claims, err := e.Execute(t.Context(), accessPayload())
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, claims)

			var se *ScriptError
			require.ErrorAs(t, err, &se)
		})
	}
}

func TestExecute_InvalidInput(t *testing.T) {
	engine := &fakeEngine{
		runtime: customizer.RuntimeJavaScript,
		run: func(context.Context, string, map[string]any) (map[string]any, error) {
			return map[string]any{}, nil
		},
	}
	e := newTestExecutor(t, engine)

	tests := []struct {
		name   string
		mutate func(p *Payload)
	}{
		{name: "empty script", mutate: func(p *Payload) { p.Script = "" }},
		{name: "missing token", mutate: func(p *Payload) { p.Token = nil }},
		{name: "unknown token type", mutate: func(p *Payload) { p.TokenType = "jwt.refresh" }},
		{name: "access token without context", mutate: func(p *Payload) { p.Context = nil }},
		{name: "disabled runtime", mutate: func(p *Payload) { p.Runtime = customizer.RuntimeStarlark }},
		{name: "unknown runtime", mutate: func(p *Payload) { p.Runtime = "lua" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := accessPayload()
			tt.mutate(&p)
			_, err := e.Execute(t.Context(), p)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	assert.Empty(t, engine.inputs, "the engine is never reached for invalid input")
}

func TestPayload_ValidateDetails(t *testing.T) {
	p := accessPayload()
	p.Token = nil
	err := p.Validate()

	var se *ScriptError
	require.ErrorAs(t, err, &se)
	require.NotEmpty(t, se.Details)
	assert.Contains(t, strings.Join(se.Details, "\n"), "/token")
}

func TestPayload_Input(t *testing.T) {
	p := Payload{
		TokenType: customizer.ClientCredentials,
		Token:     map[string]any{"aud": "x"},
		Context:   map[string]any{"user": map[string]any{"id": "u1"}},
	}
	in := p.Input()
	assert.NotContains(t, in, "context")
	assert.Equal(t, map[string]any{}, in["environmentVariables"])

	in["token"].(map[string]any)["aud"] = "changed"
	assert.Equal(t, "x", p.Token["aud"])
}
