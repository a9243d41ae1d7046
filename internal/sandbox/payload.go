package sandbox

import (
	_ "embed"
	"errors"
	"maps"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/schema"
)

// EntryPoint is the function every customizer script must define.
const EntryPoint = "getCustomJwtClaims"

//go:embed payload.schema.json
var payloadSchemaDocument []byte

var payloadSchema = schema.MustCompile("execution-payload", payloadSchemaDocument)

// Payload is the input to one sandbox run.
type Payload struct {
	Script               string              `json:"script"`
	Runtime              customizer.Runtime  `json:"runtime,omitempty"`
	TokenType            customizer.TokenKey `json:"tokenType"`
	Token                map[string]any      `json:"token"`
	Context              map[string]any      `json:"context,omitempty"`
	EnvironmentVariables map[string]string   `json:"environmentVariables,omitempty"`
}

// Validate checks the payload shape. Failures are *ScriptError of kind ErrInvalidInput.
func (p Payload) Validate() error {
	err := payloadSchema.Validate(p)
	if err == nil {
		return nil
	}

	se := NewScriptError(ErrInvalidInput, "payload failed validation").WithCause(err)
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		se.Details = ve.Details()
	}
	return se
}

// Input returns the value passed to the entry point. The context key is present only for
// token types bound to a user; for every other token type it is omitted entirely.
func (p Payload) Input() map[string]any {
	env := make(map[string]any, len(p.EnvironmentVariables))
	for k, v := range p.EnvironmentVariables {
		env[k] = v
	}

	in := map[string]any{
		"token":                maps.Clone(p.Token),
		"environmentVariables": env,
	}
	if p.TokenType.ExposesUserContext() {
		in["context"] = maps.Clone(p.Context)
	}
	return in
}
