package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/atlanticdynamic/customjwt/internal/deployment"
	"github.com/atlanticdynamic/customjwt/internal/sandbox"
)

var errMalformedBody = errors.New("request body is not valid JSON")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor extends the sandbox mapping with deployment failures.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errMalformedBody):
		return http.StatusBadRequest
	case errors.Is(err, deployment.ErrPublish), errors.Is(err, deployment.ErrTeardown):
		return http.StatusBadGateway
	case errors.Is(err, deployment.ErrLock):
		return http.StatusServiceUnavailable
	default:
		return sandbox.HTTPStatus(err)
	}
}

func errorBody(err error, status int) sandbox.ErrorBody {
	switch status {
	case http.StatusBadRequest:
		return sandbox.ErrorBody{Message: err.Error()}
	case http.StatusBadGateway:
		return sandbox.ErrorBody{Message: "failed to publish customizers to the remote host"}
	case http.StatusServiceUnavailable:
		return sandbox.ErrorBody{Message: "another deployment is in progress"}
	default:
		return sandbox.NewErrorBody(err)
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("Request failed", "pattern", r.Pattern, "status", status, "kind", sandbox.KindName(err), "error", err)
	} else {
		a.logger.Debug("Request rejected", "pattern", r.Pattern, "status", status, "kind", sandbox.KindName(err), "error", err)
	}
	writeJSON(w, status, errorBody(err, status))
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errMalformedBody)
		}
		return fmt.Errorf("%w: %w", errMalformedBody, err)
	}
	return nil
}
