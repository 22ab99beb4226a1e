package parser

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestParseFile_YAMLSuite(t *testing.T) {
	path := writeFile(t, "checkout.yaml", `
name: checkout flow
stopOnFailure: true
variables:
  host: http://localhost:8080
definitions:
  - name: login
    method: post
    url: "{{host}}/login"
    body: '{"user":"a"}'
    extract:
      - name: token
        path: data.token
  - name: create order
    method: POST
    url: "{{host}}/orders"
    weight: 2
    assertions:
      - kind: status-code
        expected: "201"
`)

	suite, err := ParseFile(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if suite.Name != "checkout flow" || !suite.StopOnFailure {
		t.Errorf("Unexpected suite header: %+v", suite)
	}
	if len(suite.Definitions) != 2 {
		t.Fatalf("Expected 2 definitions, got %d", len(suite.Definitions))
	}
	if suite.Definitions[0].Method != "POST" {
		t.Errorf("Expected method to be upper-cased, got %s", suite.Definitions[0].Method)
	}
	if suite.Definitions[0].Extract[0].Path != "data.token" {
		t.Errorf("Expected extract rule to be parsed")
	}
	if suite.Variables["host"] != "http://localhost:8080" {
		t.Errorf("Expected suite variables, got %v", suite.Variables)
	}
}

func TestParseFile_YAMLList(t *testing.T) {
	path := writeFile(t, "list.yml", `
- method: GET
  url: http://a/1
- method: DELETE
  url: http://a/2
`)
	suite, err := ParseFile(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(suite.Definitions) != 2 || suite.Name != "list" {
		t.Errorf("Unexpected suite: %+v", suite)
	}
}

func TestParseFile_JSONCSingle(t *testing.T) {
	path := writeFile(t, "single.jsonc", `{
		// fetch the user
		"name": "get user",
		"method": "GET",
		"url": "http://a/users/{{id}}", /* trailing comma below */
		"repeat": true,
		"repeatCount": 3,
	}`)
	suite, err := ParseFile(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	def := suite.Definitions[0]
	if def.Name != "get user" || def.Attempts() != 3 {
		t.Errorf("Unexpected definition: %+v", def)
	}
}

func TestParseFile_Invalid(t *testing.T) {
	tests := map[string]string{
		"method.json": `{"method":"TRACE","url":"http://a"}`,
		"repeat.json": `{"method":"GET","url":"http://a","repeat":true,"repeatCount":101}`,
		"nourl.yaml":  "method: GET\n",
		"empty.json":  `[]`,
		"broken.json": `{"method":`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseFile(writeFile(t, name, content)); err == nil {
				t.Errorf("Expected error for %s", name)
			}
		})
	}
}
