package customizer

import (
	"errors"
	"fmt"
)

var (
	// ErrCustomizer is the base error for customizer model errors.
	ErrCustomizer = errors.New("customizer error")

	ErrUnknownTokenKey          = fmt.Errorf("%w: unknown token key", ErrCustomizer)
	ErrUnknownUseCase           = fmt.Errorf("%w: unknown use case", ErrCustomizer)
	ErrUnknownRuntime           = fmt.Errorf("%w: unknown runtime", ErrCustomizer)
	ErrEmptyScript              = fmt.Errorf("%w: empty script", ErrCustomizer)
	ErrEmptyEntry               = fmt.Errorf("%w: empty entry", ErrCustomizer)
	ErrEmptyEnvironmentVariable = fmt.Errorf("%w: empty environment variable name", ErrCustomizer)
)
