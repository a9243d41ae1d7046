package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration written as a string such as "3s" or "250ms" in TOML.
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

// AsDuration converts to time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %w", ErrInvalidValue, text, err)
	}
	*d = Duration(parsed)
	return nil
}
