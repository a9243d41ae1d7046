// Package customizer holds the domain model for tenant-configured token customizer scripts.
//
// A customizer slot is addressed by a (TokenKey, UseCase) pair. Each slot holds at most one
// Script. An Entry groups the slots of one TokenKey; an Entry without any script is treated as
// absent rather than as an empty value.
package customizer

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// TokenKey identifies the token type a customizer applies to.
type TokenKey string

const (
	AccessToken       TokenKey = "jwt.accessToken"
	ClientCredentials TokenKey = "jwt.clientCredentials"
	IDToken           TokenKey = "jwt.idToken"
)

var tokenKeySlugs = map[TokenKey]string{
	AccessToken:       "access-token",
	ClientCredentials: "client-credentials",
	IDToken:           "id-token",
}

// AllTokenKeys returns every supported token key in a stable order.
func AllTokenKeys() []TokenKey {
	return []TokenKey{AccessToken, ClientCredentials, IDToken}
}

// ParseTokenKey accepts either the canonical key ("jwt.accessToken") or its URL slug ("access-token").
func ParseTokenKey(s string) (TokenKey, error) {
	s = strings.TrimSpace(s)
	for key, slug := range tokenKeySlugs {
		if s == string(key) || s == slug {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTokenKey, s)
}

func (k TokenKey) String() string {
	return string(k)
}

// Slug returns the URL path form of the key.
func (k TokenKey) Slug() string {
	if slug, ok := tokenKeySlugs[k]; ok {
		return slug
	}
	return string(k)
}

// Validate checks that the key is one of the supported token types.
func (k TokenKey) Validate() error {
	if _, ok := tokenKeySlugs[k]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTokenKey, string(k))
	}
	return nil
}

// ExposesUserContext reports whether scripts for this token type receive the identity context.
// Only access tokens are bound to a user.
func (k TokenKey) ExposesUserContext() bool {
	return k == AccessToken
}

// UseCase is the execution mode of a customizer script.
type UseCase string

const (
	UseCaseTest       UseCase = "test"
	UseCaseProduction UseCase = "production"
)

// AllUseCases returns both use cases, production first.
func AllUseCases() []UseCase {
	return []UseCase{UseCaseProduction, UseCaseTest}
}

// ParseUseCase parses a use case name.
func ParseUseCase(s string) (UseCase, error) {
	switch UseCase(strings.ToLower(strings.TrimSpace(s))) {
	case UseCaseTest:
		return UseCaseTest, nil
	case UseCaseProduction:
		return UseCaseProduction, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownUseCase, s)
	}
}

func (u UseCase) String() string {
	return string(u)
}

// Validate checks that the use case is known.
func (u UseCase) Validate() error {
	_, err := ParseUseCase(string(u))
	return err
}

// Runtime selects the interpreter a script is written for.
type Runtime string

const (
	RuntimeJavaScript Runtime = "javascript"
	RuntimeStarlark   Runtime = "starlark"
)

// ParseRuntime parses a runtime name. An empty string selects JavaScript.
func ParseRuntime(s string) (Runtime, error) {
	switch Runtime(strings.ToLower(strings.TrimSpace(s))) {
	case "", RuntimeJavaScript, "js":
		return RuntimeJavaScript, nil
	case RuntimeStarlark, "star":
		return RuntimeStarlark, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRuntime, s)
	}
}

// OrDefault returns the runtime, substituting JavaScript when unset.
func (r Runtime) OrDefault() Runtime {
	if r == "" {
		return RuntimeJavaScript
	}
	return r
}

// Script is the source and settings for one customizer slot.
type Script struct {
	Source               string            `json:"script"                         yaml:"script"`
	Runtime              Runtime           `json:"runtime,omitempty"              yaml:"runtime,omitempty"`
	EnvironmentVariables map[string]string `json:"environmentVariables,omitempty" yaml:"environmentVariables,omitempty"`
}

// Validate checks the script has source text and a known runtime.
func (s Script) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Source) == "" {
		errs = append(errs, ErrEmptyScript)
	}
	if _, err := ParseRuntime(string(s.Runtime)); err != nil {
		errs = append(errs, err)
	}
	for name := range s.EnvironmentVariables {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, ErrEmptyEnvironmentVariable)
			break
		}
	}
	return errors.Join(errs...)
}

// Entry is the stored configuration for one TokenKey.
type Entry struct {
	Scripts       map[UseCase]Script `json:"scripts"                 yaml:"scripts"`
	TokenSample   map[string]any     `json:"tokenSample,omitempty"   yaml:"tokenSample,omitempty"`
	ContextSample map[string]any     `json:"contextSample,omitempty" yaml:"contextSample,omitempty"`
}

// Script returns the script configured for a use case.
func (e *Entry) Script(useCase UseCase) (Script, bool) {
	if e == nil {
		return Script{}, false
	}
	s, ok := e.Scripts[useCase]
	if !ok || s.Source == "" {
		return Script{}, false
	}
	return s, true
}

// SetScript stores a script under a use case.
func (e *Entry) SetScript(useCase UseCase, s Script) {
	if e.Scripts == nil {
		e.Scripts = make(map[UseCase]Script, 2)
	}
	e.Scripts[useCase] = s
}

// IsEmpty reports whether the entry holds no script in any use case.
func (e *Entry) IsEmpty() bool {
	if e == nil {
		return true
	}
	for _, s := range e.Scripts {
		if s.Source != "" {
			return false
		}
	}
	return true
}

// Validate checks every script in the entry.
func (e *Entry) Validate() error {
	if e == nil {
		return ErrEmptyEntry
	}
	var errs []error
	for useCase, s := range e.Scripts {
		if err := useCase.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", useCase, err))
		}
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy of the entry's scripts; samples are copied shallowly.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := &Entry{
		Scripts:       make(map[UseCase]Script, len(e.Scripts)),
		TokenSample:   maps.Clone(e.TokenSample),
		ContextSample: maps.Clone(e.ContextSample),
	}
	for useCase, s := range e.Scripts {
		s.EnvironmentVariables = maps.Clone(s.EnvironmentVariables)
		out.Scripts[useCase] = s
	}
	return out
}

// Customizers is the full set of customizer entries known to a store.
type Customizers map[TokenKey]*Entry

// Configured returns only the entries holding at least one script.
func (c Customizers) Configured() Customizers {
	out := make(Customizers, len(c))
	for key, entry := range c {
		if !entry.IsEmpty() {
			out[key] = entry
		}
	}
	return out
}

// Has reports whether a key has at least one script configured.
func (c Customizers) Has(key TokenKey) bool {
	entry, ok := c[key]
	return ok && !entry.IsEmpty()
}

// Keys returns the configured keys in sorted order.
func (c Customizers) Keys() []TokenKey {
	keys := make([]TokenKey, 0, len(c))
	for key, entry := range c {
		if !entry.IsEmpty() {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}
