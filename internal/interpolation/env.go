// Package interpolation expands ${VAR} and ${VAR:default} references in configuration values.
package interpolation

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

// Matches ${NAME} and ${NAME:default}. The colon is captured so ${NAME:} means an empty default.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:)?([^}]*)\}`)

// ExpandEnvVars replaces every ${NAME} or ${NAME:default} in input. A variable that is unset and
// has no default is reported as an error and left in place.
func ExpandEnvVars(input string) (string, error) {
	return expand(input, os.LookupEnv)
}

func expand(input string, lookup func(string) (string, bool)) (string, error) {
	if input == "" {
		return "", nil
	}

	var missing []error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)
		name, hasDefault, def := m[1], m[2] == ":", m[3]

		if v, ok := lookup(name); ok {
			return v
		}
		if hasDefault {
			return def
		}
		missing = append(missing, fmt.Errorf("environment variable not defined: %s", name))
		return match
	})
	return out, errors.Join(missing...)
}
