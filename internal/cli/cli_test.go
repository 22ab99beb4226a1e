package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/studiowebux/apitest/internal/config"
	"github.com/studiowebux/apitest/internal/engine"
	"github.com/studiowebux/apitest/internal/types"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	settings := config.DefaultSettings()
	settings.LoadTestDir = filepath.Join(t.TempDir(), "loadtests")

	e, err := engine.New(engine.Options{Settings: settings})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolveFilePath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "users.yaml", "method: GET\nurl: http://x\n")
	writeFile(t, dir, "orders.json", `{"method":"GET","url":"http://x"}`)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"exact", filepath.Join(dir, "users.yaml"), filepath.Join(dir, "users.yaml"), false},
		{"yaml extension", filepath.Join(dir, "users"), filepath.Join(dir, "users.yaml"), false},
		{"json extension", filepath.Join(dir, "orders"), filepath.Join(dir, "orders.json"), false},
		{"missing", filepath.Join(dir, "nope"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveFilePath(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveFilePath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got: %s", tt.want, got)
			}
		})
	}
}

func TestPick(t *testing.T) {
	suite := &types.Suite{
		Name: "api",
		Definitions: []types.CallDefinition{
			{ID: "a1", Name: "list", Method: "GET", URL: "http://x"},
			{ID: "b2", Name: "create", Method: "POST", URL: "http://x"},
		},
	}

	if d, _ := pick(suite, ""); d.Name != "list" {
		t.Errorf("Expected first definition by default, got: %s", d.Name)
	}
	if d, _ := pick(suite, "create"); d.ID != "b2" {
		t.Errorf("Expected lookup by name, got: %s", d.ID)
	}
	if d, _ := pick(suite, "b2"); d.Name != "create" {
		t.Errorf("Expected lookup by id, got: %s", d.Name)
	}
	if _, err := pick(suite, "delete"); err == nil {
		t.Errorf("Expected error for unknown definition")
	}
}

func TestRun_WritesExecutionAndAppliesQuery(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"items":[{"id":1,"owner":"%s"},{"id":2,"owner":"bob"}]}`, r.URL.Query().Get("owner"))
	}))
	defer upstream.Close()

	dir := t.TempDir()
	path := writeFile(t, dir, "items.yaml", `name: items
variables:
  base_url: `+upstream.URL+`
definitions:
  - name: list-items
    method: GET
    url: "{{base_url}}/items"
    params:
      owner: "{{owner}}"
    assertions:
      - kind: status-code
        expected: "200"
`)

	e := newTestEngine(t)
	var out bytes.Buffer
	passed, err := Run(context.Background(), e, RunOptions{
		FilePath:     filepath.Join(dir, "items"),
		OutputFormat: FormatBody,
		ExtraVars:    []string{"owner=ada"},
		Query:        "items[?owner=='ada'].id",
		Stdout:       &out,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !passed {
		t.Errorf("Expected the call to pass")
	}
	if got := strings.Join(strings.Fields(out.String()), ""); got != "[1]" {
		t.Errorf("Expected queried body [1], got: %q", out.String())
	}

	savePath := filepath.Join(dir, "out.json")
	if _, err := Run(context.Background(), e, RunOptions{
		FilePath:     path,
		OutputFormat: FormatJSON,
		ExtraVars:    []string{"owner=ada"},
		SavePath:     savePath,
	}); err != nil {
		t.Fatalf("Run with save failed: %v", err)
	}
	data, err := os.ReadFile(savePath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"passed": true`) {
		t.Errorf("Expected saved JSON execution, got: %s", data)
	}
}

func TestRun_UnresolvedURLFails(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.yaml", "method: GET\nurl: \"{{missing}}/ping\"\n")

	e := newTestEngine(t)
	var out bytes.Buffer
	if _, err := Run(context.Background(), e, RunOptions{FilePath: path, Stdout: &out}); err == nil {
		t.Errorf("Expected unresolved variable error")
	}
}

func TestRunBatch_ReportsFailures(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	dir := t.TempDir()
	path := writeFile(t, dir, "smoke.yaml", `name: smoke
definitions:
  - name: healthy
    method: GET
    url: `+upstream.URL+`/ok
    assertions:
      - kind: status-code
        expected: "200"
  - name: broken
    method: GET
    url: `+upstream.URL+`/broken
    assertions:
      - kind: status-code
        expected: "200"
`)

	e := newTestEngine(t)
	var stdout, stderr bytes.Buffer
	passed, err := RunBatch(context.Background(), e, BatchOptions{
		FilePaths: []string{path},
		Stdout:    &stdout,
		Stderr:    &stderr,
	})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if passed {
		t.Errorf("Expected batch to report a failure")
	}

	output := stdout.String()
	if !strings.Contains(output, "healthy") || !strings.Contains(output, "broken") {
		t.Errorf("Expected both definitions in output, got: %s", output)
	}
	if !strings.Contains(output, "passed=1 failed=1") {
		t.Errorf("Expected final progress line, got: %s", output)
	}
}
