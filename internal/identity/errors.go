package identity

import "errors"

var (
	// ErrUserNotFound means the subject did not resolve to a stored user.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidContext means an assembled context failed schema validation. It indicates a
	// defect in the assembler or the store, so callers must not retry.
	ErrInvalidContext = errors.New("assembled identity context is invalid")
)
