package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmespath/go-jmespath"
	"github.com/studiowebux/apitest/internal/types"
)

// Apply applies filter and query JMESPath expressions to a response body
// Filter narrows results (e.g., items[?status==`active`])
// Query transforms/selects fields (e.g., [].name)
func Apply(body string, filter string, query string) (string, error) {
	result := body

	if filter != "" {
		filtered, err := applyJMESPath(result, filter)
		if err != nil {
			return "", fmt.Errorf("failed to apply filter: %w", err)
		}
		result = filtered
	}

	if query != "" {
		queried, err := applyJMESPath(result, query)
		if err != nil {
			return "", fmt.Errorf("failed to apply query: %w", err)
		}
		result = queried
	}

	return result, nil
}

// Search evaluates a JMESPath expression against a JSON body and returns the raw value
func Search(body string, expression string) (interface{}, error) {
	var data interface{}
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	jp, err := jmespath.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid JMESPath expression '%s': %w", expression, err)
	}

	result, err := jp.Search(data)
	if err != nil {
		return nil, fmt.Errorf("JMESPath search failed: %w", err)
	}
	return result, nil
}

// applyJMESPath applies a JMESPath expression to a JSON string
func applyJMESPath(jsonStr string, expression string) (string, error) {
	result, err := Search(jsonStr, expression)
	if err != nil {
		return "", err
	}

	if result == nil {
		return "null", nil
	}

	output, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	return string(output), nil
}

// IsValidJMESPath checks if an expression is valid JMESPath syntax
func IsValidJMESPath(expression string) bool {
	_, err := jmespath.Compile(expression)
	return err == nil
}

// ByCategory keeps definitions in ANY of the given categories
func ByCategory(defs []types.CallDefinition, categories []string) []types.CallDefinition {
	if len(categories) == 0 {
		return defs
	}

	var filtered []types.CallDefinition
	for _, def := range defs {
		for _, c := range categories {
			if strings.EqualFold(def.Category, c) {
				filtered = append(filtered, def)
				break
			}
		}
	}
	return filtered
}

// ByName keeps definitions whose name matches one of names (case-insensitive)
func ByName(defs []types.CallDefinition, names []string) []types.CallDefinition {
	if len(names) == 0 {
		return defs
	}

	var filtered []types.CallDefinition
	for _, def := range defs {
		for _, n := range names {
			if strings.EqualFold(def.Name, n) {
				filtered = append(filtered, def)
				break
			}
		}
	}
	return filtered
}
