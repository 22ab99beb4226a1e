package parser

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/studiowebux/apitest/internal/types"
)

var (
	// Variable placeholder pattern: {{varName}}
	varPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)
)

// ErrUnresolvedVariable is wrapped by UnresolvedVariableError
var ErrUnresolvedVariable = errors.New("unresolved variable")

// UnresolvedVariableError lists the placeholders a fail-fast field could not resolve
type UnresolvedVariableError struct {
	Field string
	Names []string
}

func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("unresolved variable in %s: %s", e.Field, strings.Join(e.Names, ", "))
}

func (e *UnresolvedVariableError) Unwrap() error {
	return ErrUnresolvedVariable
}

// Lookup resolves a single variable name
type Lookup interface {
	Lookup(name string) (string, bool)
}

// MapLookup adapts a plain map to Lookup
type MapLookup map[string]string

// Lookup implements Lookup
func (m MapLookup) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Resolve replaces every {{name}} placeholder found in vars.
// Unknown placeholders are left as literal text and their names returned.
func Resolve(input string, vars Lookup) (string, []string) {
	var unresolved []string
	result := varPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if vars != nil {
			if value, ok := vars.Lookup(name); ok {
				return value
			}
		}
		unresolved = appendUnique(unresolved, name)
		return match
	})
	return result, unresolved
}

// ResolveBlank resolves placeholders and substitutes "" for unknown names.
// Used for headers, body and data-source templates.
func ResolveBlank(input string, vars Lookup) string {
	return varPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if vars != nil {
			if value, ok := vars.Lookup(name); ok {
				return value
			}
		}
		return ""
	})
}

// ResolveStrict resolves placeholders and fails on any unknown name.
// Used for the URL and query parameters.
func ResolveStrict(field, input string, vars Lookup) (string, error) {
	result, unresolved := Resolve(input, vars)
	if len(unresolved) > 0 {
		return "", &UnresolvedVariableError{Field: field, Names: unresolved}
	}
	return result, nil
}

// ResolveDefinition returns a copy of def with every templated field resolved.
// URL and params fail fast; headers, body and encryption keys are blank-substituted.
func ResolveDefinition(def *types.CallDefinition, vars Lookup) (*types.CallDefinition, error) {
	resolved := def.Snapshot()

	var missing []string
	url, unresolved := Resolve(def.URL, vars)
	missing = append(missing, unresolved...)
	resolved.URL = url

	if len(def.Params) > 0 {
		keys := make([]string, 0, len(def.Params))
		for k := range def.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			value, unresolved := Resolve(def.Params[k], vars)
			for _, name := range unresolved {
				missing = appendUnique(missing, name)
			}
			resolved.Params[k] = value
		}
	}
	if len(missing) > 0 {
		return nil, &UnresolvedVariableError{Field: "url", Names: missing}
	}

	for key, value := range def.Headers {
		resolved.Headers[key] = ResolveBlank(value, vars)
	}
	resolved.Body = ResolveBlank(def.Body, vars)

	if resolved.Encryption != nil {
		resolved.Encryption.Key = ResolveBlank(resolved.Encryption.Key, vars)
		for i := range resolved.Encryption.Fields {
			f := &resolved.Encryption.Fields[i]
			f.Source = ResolveBlank(f.Source, vars)
			f.Key = ResolveBlank(f.Key, vars)
		}
	}

	return resolved, nil
}

// ExtractVariableNames extracts all unique variable names from a string
// Returns variable names without the {{ }} brackets
func ExtractVariableNames(input string) []string {
	matches := varPattern.FindAllStringSubmatch(input, -1)
	var names []string
	for _, match := range matches {
		if len(match) > 1 {
			names = appendUnique(names, strings.TrimSpace(match[1]))
		}
	}
	return names
}

// ExtractDefinitionVariables extracts all unique variable names referenced by a definition
// Includes variables from URL, params, headers and body
func ExtractDefinitionVariables(def *types.CallDefinition) []string {
	var names []string
	add := func(vars []string) {
		for _, name := range vars {
			names = appendUnique(names, name)
		}
	}

	add(ExtractVariableNames(def.URL))
	for _, v := range def.Params {
		add(ExtractVariableNames(v))
	}
	for _, v := range def.Headers {
		add(ExtractVariableNames(v))
	}
	add(ExtractVariableNames(def.Body))

	return names
}

// LoadEnvFile loads environment variables from a .env file
func LoadEnvFile(path string) (map[string]string, error) {
	envVars := make(map[string]string)

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(strings.TrimPrefix(parts[0], "export "))
		value := strings.TrimSpace(parts[1])

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		envVars[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading env file: %w", err)
	}

	return envVars, nil
}

// LoadSystemEnv loads all system environment variables
func LoadSystemEnv() map[string]string {
	envVars := make(map[string]string)
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envVars[parts[0]] = parts[1]
		}
	}
	return envVars
}

// ParseAssignments parses key=value pairs from -e flags
func ParseAssignments(pairs []string) map[string]string {
	vars := make(map[string]string)
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		switch {
		case len(parts) == 2:
			vars[parts[0]] = parts[1]
		case parts[0] != "":
			vars[parts[0]] = ""
		}
	}
	return vars
}

func appendUnique(list []string, name string) []string {
	for _, existing := range list {
		if existing == name {
			return list
		}
	}
	return append(list, name)
}
