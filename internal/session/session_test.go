package session

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/studiowebux/apitest/internal/types"
)

func TestStore_SetGetDeletePersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "variables.json")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if len(s.List()) != 0 {
		t.Fatalf("Expected empty store")
	}

	if _, err := s.Set(types.Variable{Name: " base_url ", Value: "http://localhost:8080"}); err != nil {
		t.Fatalf("Failed to set variable: %v", err)
	}
	if _, err := s.Set(types.Variable{Name: "request_id", Value: "uuid", Type: types.VarDynamic}); err != nil {
		t.Fatalf("Failed to set variable: %v", err)
	}
	if _, err := s.Set(types.Variable{Name: "bad", Type: "secret"}); err == nil {
		t.Errorf("Expected invalid type to be rejected")
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	v, err := reopened.Get("base_url")
	if err != nil || v.Value != "http://localhost:8080" || v.Type != types.VarString {
		t.Errorf("Unexpected persisted variable: %+v (%v)", v, err)
	}

	scope := reopened.Scope(map[string]string{"base_url": "http://override"}, nil)
	if got, _ := scope.Lookup("base_url"); got != "http://override" {
		t.Errorf("Expected override to win, got: %s", got)
	}
	id1, _ := scope.ForCall().Lookup("request_id")
	id2, _ := scope.ForCall().Lookup("request_id")
	if id1 == "" || id1 == id2 {
		t.Errorf("Expected a fresh dynamic value per call, got %q and %q", id1, id2)
	}

	if err := reopened.Delete("base_url"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if err := reopened.Delete("base_url"); !errors.Is(err, ErrVariableNotFound) {
		t.Errorf("Expected ErrVariableNotFound, got: %v", err)
	}
}

func TestStore_GenerateToken(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "variables.json"))

	tests := []struct {
		kind    string
		value   string
		pattern string
	}{
		{TokenUUID, "", `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`},
		{TokenHex32, "", `^[0-9a-f]{32}$`},
		{TokenHex64, "", `^[0-9a-f]{64}$`},
		{TokenURLSafe, "", `^[A-Za-z0-9_-]{43}$`},
		{TokenCustom, "  abc  ", `^abc$`},
		{"unknown", "", `^[0-9a-f]{32}$`},
	}

	for _, tt := range tests {
		v, err := s.GenerateToken("", tt.kind, tt.value)
		if err != nil {
			t.Fatalf("GenerateToken(%s) failed: %v", tt.kind, err)
		}
		if v.Name != DefaultTokenName || v.Type != types.VarToken {
			t.Errorf("Unexpected token variable: %+v", v)
		}
		if !regexp.MustCompile(tt.pattern).MatchString(v.Value) {
			t.Errorf("Token %s = %q does not match %s", tt.kind, v.Value, tt.pattern)
		}
	}

	if _, err := s.GenerateToken("t", TokenCustom, "   "); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("Expected ErrEmptyToken, got: %v", err)
	}
}

func TestStore_ConcurrentWritersKeepEveryKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "variables.json")
	a, _ := Open(path)
	b, _ := Open(path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			a.Set(types.Variable{Name: "shared", Value: "a"})
		}(i)
		go func(i int) {
			defer wg.Done()
			b.Set(types.Variable{Name: "shared", Value: "b"})
		}(i)
	}
	wg.Wait()

	a.Set(types.Variable{Name: "only_a", Value: "1"})
	b.Set(types.Variable{Name: "only_b", Value: "2"})

	final, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	if _, err := final.Get("only_a"); err != nil {
		t.Errorf("Expected only_a to survive the later write from another store")
	}
	if v, err := final.Get("shared"); err != nil || (v.Value != "a" && v.Value != "b") {
		t.Errorf("Expected one of the writers to win, got: %+v", v)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("Expected no temp file left behind")
	}
}
