package dryrun

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/sandbox"
	"github.com/atlanticdynamic/customjwt/internal/sandbox/javascript"
	"github.com/atlanticdynamic/customjwt/internal/store/memory"
)

const echoScript = `function getCustomJwtClaims({ token, context }) {
	return { sub: token.sub, user: context ? context.user.id : null };
}`

func newRunner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	exec, err := sandbox.NewExecutor(
		sandbox.WithEngine(javascript.New()),
		sandbox.WithDeadline(time.Second),
		sandbox.WithLogHandler(slog.DiscardHandler),
	)
	require.NoError(t, err)
	r, err := New(exec, append([]Option{WithLogHandler(slog.DiscardHandler)}, opts...)...)
	require.NoError(t, err)
	return r
}

func sampleStore(t *testing.T) *memory.Store {
	t.Helper()
	s, err := memory.NewFromSeed(memory.Seed{
		Customizers: customizer.Customizers{
			customizer.AccessToken: {
				Scripts:       map[customizer.UseCase]customizer.Script{customizer.UseCaseTest: {Source: echoScript}},
				TokenSample:   map[string]any{"sub": "sample-sub"},
				ContextSample: map[string]any{"user": map[string]any{"id": "sample-user"}},
			},
		},
	})
	require.NoError(t, err)
	return s
}

func TestNew_RequiresExecutor(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		want    map[string]any
		wantErr error
	}{
		{
			name: "explicit token and context",
			req: Request{
				TokenType: customizer.AccessToken,
				Script:    echoScript,
				Token:     map[string]any{"sub": "s1"},
				Context:   map[string]any{"user": map[string]any{"id": "u1"}},
			},
			want: map[string]any{"sub": "s1", "user": "u1"},
		},
		{
			name: "samples fill the gaps",
			req:  Request{TokenType: customizer.AccessToken, Script: echoScript},
			want: map[string]any{"sub": "sample-sub", "user": "sample-user"},
		},
		{
			name: "sample context with explicit token",
			req: Request{
				TokenType: customizer.AccessToken,
				Script:    echoScript,
				Token:     map[string]any{"sub": "s2"},
			},
			want: map[string]any{"sub": "s2", "user": "sample-user"},
		},
		{
			name:    "no sample for token type",
			req:     Request{TokenType: customizer.IDToken, Script: echoScript},
			wantErr: sandbox.ErrInvalidInput,
		},
		{
			name: "client credentials never get context",
			req: Request{
				TokenType: customizer.ClientCredentials,
				Script:    echoScript,
				Token:     map[string]any{"sub": "c1"},
				Context:   map[string]any{"user": map[string]any{"id": "ignored"}},
			},
			want: map[string]any{"sub": "c1", "user": nil},
		},
		{
			name:    "unknown token type",
			req:     Request{TokenType: "jwt.refresh", Script: echoScript, Token: map[string]any{}},
			wantErr: sandbox.ErrInvalidInput,
		},
	}

	r := newRunner(t, WithSamples(sampleStore(t)))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Run(t.Context(), tt.req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRun_WithoutSamples(t *testing.T) {
	r := newRunner(t)
	_, err := r.Run(t.Context(), Request{TokenType: customizer.AccessToken, Script: echoScript})
	require.ErrorIs(t, err, sandbox.ErrInvalidInput)
}
