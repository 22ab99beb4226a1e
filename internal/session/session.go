// Package session persists the global variable tier.
//
// Writes are rare and user driven: every change re-reads the file, applies
// the single update and writes it back under a mutex, so concurrent writers
// resolve as last-writer-wins per variable.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/studiowebux/apitest/internal/parser"
	"github.com/studiowebux/apitest/internal/types"
)

// Token kinds accepted by GenerateToken
const (
	TokenUUID    = "uuid"
	TokenHex32   = "hex32"
	TokenHex64   = "hex64"
	TokenURLSafe = "urlsafe"
	TokenCustom  = "custom"

	// DefaultTokenName is used when no variable name is given
	DefaultTokenName = "token"
)

var (
	// ErrVariableNotFound is returned for an unknown variable name
	ErrVariableNotFound = errors.New("variable not found")

	// ErrEmptyToken is returned when a custom token has no value
	ErrEmptyToken = errors.New("token value cannot be empty")
)

// file is the on-disk layout
type file struct {
	Variables map[string]types.Variable `json:"variables"`
}

// Store holds global variables backed by a JSON file
type Store struct {
	path string

	mu   sync.RWMutex
	vars map[string]types.Variable
}

// Open loads the store at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, vars: make(map[string]types.Variable)}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the in-memory variables with the file contents
func (s *Store) Reload() error {
	vars, err := s.read()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.vars = vars
	s.mu.Unlock()
	return nil
}

func (s *Store) read() (map[string]types.Variable, error) {
	vars := make(map[string]types.Variable)

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return vars, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read variables file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return vars, nil
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse variables file: %w", err)
	}
	for name, v := range f.Variables {
		v.Name = name
		vars[name] = v
	}
	return vars, nil
}

func (s *Store) write(vars map[string]types.Variable) error {
	data, err := json.MarshalIndent(file{Variables: vars}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create variables directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write variables file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace variables file: %w", err)
	}
	return nil
}

// update applies fn to the latest file contents and persists the result
func (s *Store) update(fn func(vars map[string]types.Variable) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vars, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(vars); err != nil {
		return err
	}
	if err := s.write(vars); err != nil {
		return err
	}
	s.vars = vars
	return nil
}

// List returns all variables sorted by name
func (s *Store) List() []types.Variable {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Variable, 0, len(s.vars))
	for _, v := range s.vars {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns one variable
func (s *Store) Get(name string) (types.Variable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	if !ok {
		return types.Variable{}, fmt.Errorf("%w: %s", ErrVariableNotFound, name)
	}
	return v, nil
}

// Set creates or replaces a variable
func (s *Store) Set(v types.Variable) (types.Variable, error) {
	v.Name = strings.TrimSpace(v.Name)
	if v.Type == "" {
		v.Type = types.VarString
	}
	if err := v.Validate(); err != nil {
		return types.Variable{}, err
	}
	v.UpdatedAt = time.Now()

	err := s.update(func(vars map[string]types.Variable) error {
		vars[v.Name] = v
		return nil
	})
	return v, err
}

// Delete removes a variable
func (s *Store) Delete(name string) error {
	return s.update(func(vars map[string]types.Variable) error {
		if _, ok := vars[name]; !ok {
			return fmt.Errorf("%w: %s", ErrVariableNotFound, name)
		}
		delete(vars, name)
		return nil
	})
}

// GenerateToken stores a freshly generated token under name. Unknown kinds
// fall back to hex32; custom tokens use value as given.
func (s *Store) GenerateToken(name, kind, value string) (types.Variable, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultTokenName
	}

	var token string
	switch kind {
	case TokenCustom:
		token = strings.TrimSpace(value)
	case TokenUUID, TokenHex32, TokenHex64, TokenURLSafe:
		generated, err := parser.Generate(kind)
		if err != nil {
			return types.Variable{}, err
		}
		token = generated
	default:
		generated, err := parser.Generate(TokenHex32)
		if err != nil {
			return types.Variable{}, err
		}
		token = generated
	}
	if token == "" {
		return types.Variable{}, ErrEmptyToken
	}

	return s.Set(types.Variable{
		Name:        name,
		Value:       token,
		Type:        types.VarToken,
		Description: "Token " + time.Now().Format("2006-01-02 15:04:05"),
	})
}

// Scope builds a variable scope for one run from the persisted variables
func (s *Store) Scope(overrides, env map[string]string) *parser.VariableScope {
	return parser.NewScopeFromVariables(s.List(), overrides, env)
}
