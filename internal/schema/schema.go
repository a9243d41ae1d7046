// Package schema compiles embedded JSON Schemas and validates Go values against them.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON Schema.
type Schema struct {
	id       string
	compiled *jsonschema.Schema
}

// Compile compiles a schema document under an in-memory resource id.
func Compile(id string, document []byte) (*Schema, error) {
	if len(document) == 0 {
		return nil, errors.New("schema is empty")
	}
	resourceID := "inmemory://" + id
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(document)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{id: id, compiled: compiled}, nil
}

// MustCompile is Compile for package-level embedded schemas.
func MustCompile(id string, document []byte) *Schema {
	s, err := Compile(id, document)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", id, err))
	}
	return s
}

// Validate checks a value. The value is first round-tripped through encoding/json so
// structs and typed maps are seen as raw JSON values.
func (s *Schema) Validate(value any) error {
	payload, err := normalize(value)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}
	if err := s.compiled.Validate(payload); err != nil {
		return &ValidationError{Schema: s.id, cause: err}
	}
	return nil
}

// ValidationError is a failed validation with one detail line per failing location.
type ValidationError struct {
	Schema string
	cause  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s schema validation failed: %v", e.Schema, e.cause)
}

func (e *ValidationError) Unwrap() error {
	return e.cause
}

// Details returns "location: message" lines for every leaf failure.
func (e *ValidationError) Details() []string {
	var ve *jsonschema.ValidationError
	if !errors.As(e.cause, &ve) {
		return []string{e.cause.Error()}
	}

	var out []string
	for _, item := range ve.BasicOutput().Errors {
		if item.Error == "" || item.KeywordLocation == "" || strings.HasPrefix(item.Error, "doesn't validate with") {
			continue
		}
		loc := item.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		out = append(out, loc+": "+item.Error)
	}
	if len(out) == 0 {
		out = append(out, ve.Message)
	}
	return out
}

func normalize(value any) (any, error) {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		data = encoded
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
