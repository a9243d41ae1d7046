package config

import (
	"errors"
	"fmt"
)

var (
	ErrConfig = errors.New("config error")

	ErrLoad               = fmt.Errorf("%w: failed to load config", ErrConfig)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported config version", ErrConfig)
	ErrInvalidValue       = fmt.Errorf("%w: invalid value", ErrConfig)
	ErrMissingField       = fmt.Errorf("%w: missing required field", ErrConfig)
)
