package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/studiowebux/apitest/internal/types"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ParseFile parses a YAML, JSON or JSONC file containing call definitions.
// The file may hold a single definition, a list of definitions, or a suite
// object with a "definitions" key.
func ParseFile(filePath string) (*types.Suite, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	suite, err := Parse(data, DetectFormat(filePath, data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}
	if suite.Name == "" {
		suite.Name = strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	}
	return suite, nil
}

// DetectFormat returns "json" or "yaml" from the extension, peeking at the content otherwise
func DetectFormat(filePath string, data []byte) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".json", ".jsonc":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	content := bytes.TrimSpace(data)
	if bytes.HasPrefix(content, []byte("{")) || bytes.HasPrefix(content, []byte("[")) {
		return "json"
	}
	return "yaml"
}

// Parse decodes definitions from raw bytes in the given format
func Parse(data []byte, format string) (*types.Suite, error) {
	var suite *types.Suite
	var err error
	if format == "json" {
		suite, err = parseJSON(jsonc.ToJSON(data))
	} else {
		suite, err = parseYAML(data)
	}
	if err != nil {
		return nil, err
	}

	if len(suite.Definitions) == 0 {
		return nil, fmt.Errorf("no call definitions found")
	}
	for i := range suite.Definitions {
		def := &suite.Definitions[i]
		def.Method = strings.ToUpper(def.Method)
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("definition %d (%s): %w", i+1, def.DisplayName(), err)
		}
	}
	return suite, nil
}

// parseJSON parses JSON format
func parseJSON(data []byte) (*types.Suite, error) {
	content := bytes.TrimSpace(data)

	if bytes.HasPrefix(content, []byte("[")) {
		var defs []types.CallDefinition
		if err := json.Unmarshal(content, &defs); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		return &types.Suite{Definitions: defs}, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(content, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if _, ok := probe["definitions"]; ok {
		var suite types.Suite
		if err := json.Unmarshal(content, &suite); err != nil {
			return nil, fmt.Errorf("failed to parse JSON suite: %w", err)
		}
		return &suite, nil
	}

	var def types.CallDefinition
	if err := json.Unmarshal(content, &def); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &types.Suite{Definitions: []types.CallDefinition{def}}, nil
}

// parseYAML parses YAML format
func parseYAML(data []byte) (*types.Suite, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(node.Content) == 0 {
		return &types.Suite{}, nil
	}
	root := node.Content[0]

	switch root.Kind {
	case yaml.SequenceNode:
		var defs []types.CallDefinition
		if err := root.Decode(&defs); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		return &types.Suite{Definitions: defs}, nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(root.Content); i += 2 {
			if root.Content[i].Value == "definitions" {
				var suite types.Suite
				if err := root.Decode(&suite); err != nil {
					return nil, fmt.Errorf("failed to parse YAML suite: %w", err)
				}
				return &suite, nil
			}
		}
		var def types.CallDefinition
		if err := root.Decode(&def); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		return &types.Suite{Definitions: []types.CallDefinition{def}}, nil
	default:
		return nil, fmt.Errorf("unexpected YAML document")
	}
}
