package sandbox

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlanticdynamic/customjwt/internal/identity"
	"github.com/atlanticdynamic/customjwt/internal/store"
)

func TestHTTPStatus(t *testing.T) {
	syntax := NewScriptError(ErrScriptRuntime, "Unexpected token")
	syntax.Syntax = true

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"invalid input", NewScriptError(ErrInvalidInput, "bad"), http.StatusUnprocessableEntity},
		{"entry point", NewScriptError(ErrEntryPointMissing, ""), http.StatusUnprocessableEntity},
		{"result shape", NewScriptError(ErrInvalidResultShape, ""), http.StatusUnprocessableEntity},
		{"timeout", NewScriptError(ErrTimeout, ""), http.StatusGatewayTimeout},
		{"runtime", NewScriptError(ErrScriptRuntime, "boom"), http.StatusInternalServerError},
		{"syntax", syntax, http.StatusUnprocessableEntity},
		{"wrapped syntax", fmt.Errorf("issue: %w", syntax), http.StatusUnprocessableEntity},
		{"user not found", fmt.Errorf("%w: u1", identity.ErrUserNotFound), http.StatusNotFound},
		{"store not found", store.ErrNotFound, http.StatusNotFound},
		{"other", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestScriptError(t *testing.T) {
	cause := errors.New("inner")
	err := NewScriptError(ErrScriptRuntime, "x is not defined").WithCause(cause)
	err.Name = "ReferenceError"

	assert.ErrorIs(t, err, ErrScriptRuntime)
	assert.ErrorIs(t, err, ErrSandbox)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "ReferenceError: x is not defined")

	assert.Equal(t, ErrTimeout.Error(), NewScriptError(ErrTimeout, "").Error())
}

func TestKindName(t *testing.T) {
	assert.Equal(t, "ok", KindName(nil))
	assert.Equal(t, "timeout", KindName(NewScriptError(ErrTimeout, "")))
	assert.Equal(t, "entry_point_missing", KindName(NewScriptError(ErrEntryPointMissing, "")))
	assert.Equal(t, "invalid_result_shape", KindName(NewScriptError(ErrInvalidResultShape, "")))
	assert.Equal(t, "invalid_input", KindName(NewScriptError(ErrInvalidInput, "")))
	assert.Equal(t, "script_runtime", KindName(NewScriptError(ErrScriptRuntime, "")))
	assert.Equal(t, "user_not_found", KindName(identity.ErrUserNotFound))
	assert.Equal(t, "internal", KindName(errors.New("x")))
}

func TestNewErrorBody(t *testing.T) {
	t.Run("runtime error with stack", func(t *testing.T) {
		se := NewScriptError(ErrScriptRuntime, "boom")
		se.Name = "Error"
		se.Stack = "Error: boom\n    at getCustomJwtClaims (customizer.js:1:40)\n"
		body := NewErrorBody(se)
		assert.Equal(t, "Error: boom", body.Message)
		assert.Equal(t, []string{"Error: boom", "at getCustomJwtClaims (customizer.js:1:40)"}, body.Errors)
	})

	t.Run("validation details", func(t *testing.T) {
		se := NewScriptError(ErrInvalidInput, "payload failed validation")
		se.Details = []string{"/token: expected object"}
		body := NewErrorBody(se)
		assert.Equal(t, "payload failed validation", body.Message)
		assert.Equal(t, []string{"/token: expected object"}, body.Errors)
	})

	t.Run("kind only", func(t *testing.T) {
		body := NewErrorBody(NewScriptError(ErrEntryPointMissing, ""))
		assert.Equal(t, ErrEntryPointMissing.Error(), body.Message)
		assert.Empty(t, body.Errors)
	})

	t.Run("internal errors are not leaked", func(t *testing.T) {
		body := NewErrorBody(errors.New("dial tcp 10.0.0.3:5432: connection refused"))
		assert.Equal(t, "internal error", body.Message)
	})

	t.Run("not found keeps message", func(t *testing.T) {
		body := NewErrorBody(fmt.Errorf("%w: u1", identity.ErrUserNotFound))
		require.Contains(t, body.Message, "u1")
	})
}
