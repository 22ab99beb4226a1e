// Package chain extracts values from responses so later calls can reference them.
package chain

import (
	"github.com/studiowebux/apitest/internal/filter"
	"github.com/studiowebux/apitest/internal/jsonpath"
	"github.com/studiowebux/apitest/internal/types"
)

// Setter receives extracted values, typically a *parser.VariableScope
type Setter interface {
	SetRuntime(name, value string)
}

// Extract evaluates extraction rules against a result's body.
// A missing path, a null value or a non-JSON body leaves the variable unset.
func Extract(rules []types.ExtractRule, result *types.ExecutionResult) map[string]string {
	if len(rules) == 0 || result == nil || result.Error != "" {
		return nil
	}

	doc, err := jsonpath.Decode(result.Body)
	if err != nil {
		return nil
	}

	extracted := make(map[string]string)
	for _, rule := range rules {
		if rule.Name == "" {
			continue
		}

		var value interface{}
		if rule.Query != "" {
			value, err = filter.Search(result.Body, rule.Query)
		} else if rule.Path != "" {
			value, err = jsonpath.Lookup(doc, rule.Path)
		} else {
			continue
		}
		if err != nil || value == nil {
			continue
		}

		extracted[rule.Name] = jsonpath.String(value)
	}

	if len(extracted) == 0 {
		return nil
	}
	return extracted
}

// Apply writes extracted values into the runtime tier
func Apply(scope Setter, extracted map[string]string) {
	for name, value := range extracted {
		scope.SetRuntime(name, value)
	}
}
