package sandbox

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/atlanticdynamic/customjwt/internal/identity"
	"github.com/atlanticdynamic/customjwt/internal/store"
)

var (
	// ErrSandbox is the base error for every classified script failure.
	ErrSandbox = errors.New("sandbox error")

	ErrEntryPointMissing  = fmt.Errorf("%w: entry point %s is missing or not callable", ErrSandbox, EntryPoint)
	ErrInvalidResultShape = fmt.Errorf("%w: result must be a plain object", ErrSandbox)
	ErrTimeout            = fmt.Errorf("%w: script exceeded its deadline", ErrSandbox)
	ErrInvalidInput       = fmt.Errorf("%w: invalid input", ErrSandbox)
	ErrScriptRuntime      = fmt.Errorf("%w: script failed", ErrSandbox)
)

// ScriptError is a classified script failure. Kind is one of the sentinel errors above.
type ScriptError struct {
	Kind error
	// Message is the human readable reason, safe to return to the tenant.
	Message string
	// Name is the script-level error class, e.g. "TypeError", when known.
	Name string
	// Stack is the script-level trace of a thrown error object, when known.
	Stack string
	// Syntax marks syntax and type errors caused by malformed script text.
	Syntax bool
	// Details holds validation messages for ErrInvalidInput.
	Details []string

	cause error
}

// NewScriptError builds a ScriptError of the given kind.
func NewScriptError(kind error, message string) *ScriptError {
	return &ScriptError{Kind: kind, Message: message}
}

// WithCause attaches an underlying error and returns the receiver.
func (e *ScriptError) WithCause(err error) *ScriptError {
	e.cause = err
	return e
}

func (e *ScriptError) Error() string {
	switch {
	case e.Message == "":
		return e.Kind.Error()
	case e.Name != "":
		return fmt.Sprintf("%v: %s: %s", e.Kind, e.Name, e.Message)
	default:
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	}
}

func (e *ScriptError) Is(target error) bool {
	return target == e.Kind || target == ErrSandbox
}

func (e *ScriptError) Unwrap() error {
	return e.cause
}

// KindName returns a short label for logs and metrics.
func KindName(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrEntryPointMissing):
		return "entry_point_missing"
	case errors.Is(err, ErrInvalidResultShape):
		return "invalid_result_shape"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrScriptRuntime):
		return "script_runtime"
	case errors.Is(err, identity.ErrUserNotFound):
		return "user_not_found"
	default:
		return "internal"
	}
}

// HTTPStatus maps an error to the status returned to API callers.
func HTTPStatus(err error) int {
	var se *ScriptError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &se) && errors.Is(se.Kind, ErrScriptRuntime):
		if se.Syntax {
			return http.StatusUnprocessableEntity
		}
		return http.StatusInternalServerError
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrEntryPointMissing),
		errors.Is(err, ErrInvalidResultShape):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, identity.ErrUserNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody is the JSON error document returned to callers.
type ErrorBody struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

// NewErrorBody renders err for a caller. Only script-level detail is exposed; wrapped host
// errors are reduced to their kind.
func NewErrorBody(err error) ErrorBody {
	var se *ScriptError
	if !errors.As(err, &se) {
		if HTTPStatus(err) == http.StatusInternalServerError {
			return ErrorBody{Message: "internal error"}
		}
		return ErrorBody{Message: err.Error()}
	}

	body := ErrorBody{Message: se.Message}
	if body.Message == "" {
		body.Message = se.Kind.Error()
	}
	if se.Name != "" {
		body.Message = se.Name + ": " + body.Message
	}
	body.Errors = append(body.Errors, se.Details...)
	if se.Stack != "" {
		for line := range strings.SplitSeq(se.Stack, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				body.Errors = append(body.Errors, line)
			}
		}
	}
	return body
}
