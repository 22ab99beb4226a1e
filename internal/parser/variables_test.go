package parser

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/studiowebux/apitest/internal/types"
)

func TestResolve_NoPlaceholdersIsIdentity(t *testing.T) {
	inputs := []string{
		"",
		"https://api.example.com/users?page=1",
		`{"name":"plain","nested":{"list":[1,2,3]}}`,
		"{ single braces } and {{ unclosed",
	}
	scope := NewScope(map[string]string{"x": "1"}, nil, nil)

	for _, input := range inputs {
		got, unresolved := Resolve(input, scope)
		if got != input {
			t.Errorf("Expected identity for %q, got %q", input, got)
		}
		if len(unresolved) != 0 {
			t.Errorf("Expected no unresolved names for %q, got %v", input, unresolved)
		}
	}
}

func TestResolve_InsideJSONBody(t *testing.T) {
	scope := NewScope(map[string]string{"name": "Ada", "id": "42"}, nil, nil)
	got := ResolveBlank(`{"user":{"name":"{{name}}","ids":[{{ id }}]}}`, scope)
	want := `{"user":{"name":"Ada","ids":[42]}}`
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestResolveDefinition_Policy(t *testing.T) {
	scope := NewScope(map[string]string{"host": "http://localhost"}, nil, nil)

	t.Run("url fails fast", func(t *testing.T) {
		def := &types.CallDefinition{Method: "GET", URL: "{{host}}/orders/{{order_id}}"}
		_, err := ResolveDefinition(def, scope)
		if !errors.Is(err, ErrUnresolvedVariable) {
			t.Fatalf("Expected ErrUnresolvedVariable, got: %v", err)
		}
		var uerr *UnresolvedVariableError
		if !errors.As(err, &uerr) || len(uerr.Names) != 1 || uerr.Names[0] != "order_id" {
			t.Errorf("Expected order_id to be reported, got: %v", err)
		}
	})

	t.Run("params fail fast", func(t *testing.T) {
		def := &types.CallDefinition{Method: "GET", URL: "{{host}}/search", Params: map[string]string{"q": "{{term}}"}}
		if _, err := ResolveDefinition(def, scope); !errors.Is(err, ErrUnresolvedVariable) {
			t.Errorf("Expected ErrUnresolvedVariable for params, got: %v", err)
		}
	})

	t.Run("headers and body blank", func(t *testing.T) {
		def := &types.CallDefinition{
			Method:  "POST",
			URL:     "{{host}}/users",
			Headers: map[string]string{"Authorization": "Bearer {{token}}"},
			Body:    `{"ref":"{{missing}}"}`,
		}
		resolved, err := ResolveDefinition(def, scope)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if resolved.URL != "http://localhost/users" {
			t.Errorf("Unexpected URL: %s", resolved.URL)
		}
		if resolved.Headers["Authorization"] != "Bearer " {
			t.Errorf("Expected blank substitution in header, got %q", resolved.Headers["Authorization"])
		}
		if resolved.Body != `{"ref":""}` {
			t.Errorf("Expected blank substitution in body, got %q", resolved.Body)
		}
		if def.Headers["Authorization"] != "Bearer {{token}}" {
			t.Errorf("Original definition was mutated")
		}
	})
}

func TestScope_RuntimeShadowsOtherTiers(t *testing.T) {
	scope := NewScope(
		map[string]string{"x": "global"},
		map[string]string{"x": GenUUID},
		nil,
	)

	scope.SetRuntime("x", "runtime")

	if v, _ := scope.Lookup("x"); v != "runtime" {
		t.Errorf("Expected runtime value, got %q", v)
	}
	if v, _ := scope.ForCall().Lookup("x"); v != "runtime" {
		t.Errorf("Expected runtime value through call view, got %q", v)
	}
}

func TestScope_LookupDoesNotMutateTiers(t *testing.T) {
	global := map[string]string{"a": "1"}
	scope := NewScope(global, map[string]string{"stamp": GenTimestampMs}, nil)

	scope.Lookup("a")
	scope.Lookup("stamp")
	scope.ForCall().Lookup("stamp")

	if len(scope.Runtime()) != 0 {
		t.Errorf("Expected empty runtime tier after lookups, got %v", scope.Runtime())
	}
	global["a"] = "changed"
	if v, _ := scope.Lookup("a"); v != "1" {
		t.Errorf("Expected scope to hold a copy of the global tier, got %q", v)
	}
}

func TestScope_DynamicEvaluatedOncePerCall(t *testing.T) {
	scope := NewScope(nil, map[string]string{"rid": GenUUID}, nil)

	call := scope.ForCall()
	first, _ := call.Lookup("rid")
	second, _ := call.Lookup("rid")
	if first == "" || first != second {
		t.Errorf("Expected a stable value within one call, got %q and %q", first, second)
	}

	next, _ := scope.ForCall().Lookup("rid")
	if next == first {
		t.Errorf("Expected a new value for the next call, got %q twice", next)
	}

	builtin, ok := call.Lookup("$uuid")
	if !ok || builtin == "" {
		t.Errorf("Expected builtin $uuid to resolve")
	}
}

func TestScope_EnvPrefix(t *testing.T) {
	scope := NewScope(nil, nil, map[string]string{"API_KEY": "secret"})
	got, unresolved := Resolve("key={{env.API_KEY}}&other={{env.MISSING}}", scope)
	if got != "key=secret&other={{env.MISSING}}" {
		t.Errorf("Unexpected resolution: %s", got)
	}
	if len(unresolved) != 1 || unresolved[0] != "env.MISSING" {
		t.Errorf("Expected env.MISSING unresolved, got %v", unresolved)
	}
}

func TestNewScopeFromVariables(t *testing.T) {
	vars := []types.Variable{
		{Name: "base", Value: "http://a", Type: types.VarString},
		{Name: "nonce", Value: GenHex32, Type: types.VarDynamic},
		{Name: "token", Value: "t1", Type: types.VarToken},
	}
	scope := NewScopeFromVariables(vars, map[string]string{"base": "http://b"}, nil)

	if v, _ := scope.Lookup("base"); v != "http://b" {
		t.Errorf("Expected override to win, got %q", v)
	}
	if v, _ := scope.Lookup("nonce"); len(v) != 32 {
		t.Errorf("Expected 32 hex chars for dynamic nonce, got %q", v)
	}
	if v, _ := scope.Lookup("token"); v != "t1" {
		t.Errorf("Expected token value, got %q", v)
	}
}

func TestExtractDefinitionVariables(t *testing.T) {
	def := &types.CallDefinition{
		URL:     "{{host}}/orders/{{order_id}}",
		Headers: map[string]string{"X-Trace": "{{trace}}"},
		Body:    `{"id":"{{order_id}}"}`,
	}
	names := ExtractDefinitionVariables(def)
	if len(names) != 3 {
		t.Errorf("Expected 3 unique names, got %v", names)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nexport TOKEN=\"abc\"\nHOST='localhost'\nMALFORMED\n\nEMPTY=\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}

	vars, err := LoadEnvFile(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if vars["TOKEN"] != "abc" || vars["HOST"] != "localhost" {
		t.Errorf("Unexpected vars: %v", vars)
	}
	if _, ok := vars["EMPTY"]; !ok {
		t.Errorf("Expected EMPTY to be present")
	}
	if _, ok := vars["MALFORMED"]; ok {
		t.Errorf("Expected malformed line to be skipped")
	}
}

func TestParseAssignments(t *testing.T) {
	vars := ParseAssignments([]string{"a=1", "b=x=y", "flag"})
	if vars["a"] != "1" || vars["b"] != "x=y" {
		t.Errorf("Unexpected assignments: %v", vars)
	}
	if v, ok := vars["flag"]; !ok || v != "" {
		t.Errorf("Expected bare key to map to empty string")
	}
}
