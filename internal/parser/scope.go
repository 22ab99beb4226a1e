package parser

import (
	"strings"
	"sync"

	"github.com/studiowebux/apitest/internal/types"
)

// VariableScope layers variables for one run.
// Lookup order: runtime (extracted) > dynamic (computed per call) > global (persisted).
// Names prefixed with "env." read the environment tier.
//
// The global and dynamic tiers are copied at construction and never written,
// so concurrent runs may share the source maps. The runtime tier belongs to
// exactly one run and is discarded with the scope.
type VariableScope struct {
	global  map[string]string
	dynamic map[string]string // name -> generator kind
	env     map[string]string

	mu      sync.RWMutex
	runtime map[string]string
}

// NewScope creates a scope from the global and dynamic tiers
// Any map can be nil if not using it
func NewScope(global, dynamic, env map[string]string) *VariableScope {
	s := &VariableScope{
		global:  make(map[string]string, len(global)),
		dynamic: make(map[string]string, len(dynamic)),
		env:     make(map[string]string, len(env)),
		runtime: make(map[string]string),
	}
	for k, v := range global {
		s.global[k] = v
	}
	for k, v := range dynamic {
		s.dynamic[k] = v
	}
	for k, v := range env {
		s.env[k] = v
	}
	return s
}

// NewScopeFromVariables splits persisted variables into the global and dynamic tiers
func NewScopeFromVariables(vars []types.Variable, overrides, env map[string]string) *VariableScope {
	global := make(map[string]string)
	dynamic := make(map[string]string)
	for _, v := range vars {
		if v.IsDynamic() {
			dynamic[v.Name] = v.Value
		} else {
			global[v.Name] = v.Value
		}
	}
	// Explicit overrides (CLI -e, API request vars) replace persisted values for this run
	for k, v := range overrides {
		delete(dynamic, k)
		global[k] = v
	}
	return NewScope(global, dynamic, env)
}

// SetRuntime writes an extracted value. Only extraction calls this.
func (s *VariableScope) SetRuntime(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtime[name] = value
}

// MergeRuntime writes several extracted values at once
func (s *VariableScope) MergeRuntime(values map[string]string) {
	if len(values) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.runtime[k] = v
	}
}

// Runtime returns a copy of the runtime tier
func (s *VariableScope) Runtime() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.runtime))
	for k, v := range s.runtime {
		out[k] = v
	}
	return out
}

// Lookup resolves a name. Dynamic values are generated on every call;
// use ForCall to get one stable value per call.
func (s *VariableScope) Lookup(name string) (string, bool) {
	if strings.HasPrefix(name, "env.") {
		v, ok := s.env[name[4:]]
		return v, ok
	}

	s.mu.RLock()
	v, ok := s.runtime[name]
	s.mu.RUnlock()
	if ok {
		return v, true
	}

	if kind, ok := s.dynamicKind(name); ok {
		value, err := Generate(kind)
		if err == nil {
			return value, true
		}
	}

	v, ok = s.global[name]
	return v, ok
}

func (s *VariableScope) dynamicKind(name string) (string, bool) {
	if kind, ok := s.dynamic[name]; ok {
		return kind, true
	}
	if kind, ok := BuiltinDynamic(name); ok {
		return kind, true
	}
	return "", false
}

// ForCall returns a view that evaluates each dynamic variable at most once.
// Every call (and every repeat attempt) gets its own view.
func (s *VariableScope) ForCall() *CallVars {
	return &CallVars{scope: s, dynamic: make(map[string]string)}
}

// CallVars is the variable view of a single call attempt
type CallVars struct {
	scope   *VariableScope
	mu      sync.Mutex
	dynamic map[string]string
}

// Lookup implements Lookup with memoized dynamic values
func (c *CallVars) Lookup(name string) (string, bool) {
	s := c.scope
	if strings.HasPrefix(name, "env.") {
		return s.Lookup(name)
	}

	s.mu.RLock()
	v, ok := s.runtime[name]
	s.mu.RUnlock()
	if ok {
		return v, true
	}

	if kind, ok := s.dynamicKind(name); ok {
		c.mu.Lock()
		defer c.mu.Unlock()
		if v, ok := c.dynamic[name]; ok {
			return v, true
		}
		value, err := Generate(kind)
		if err == nil {
			c.dynamic[name] = value
			return value, true
		}
	}

	v, ok = s.global[name]
	return v, ok
}

// Set writes a value into the runtime tier of the owning scope
func (c *CallVars) Set(name, value string) {
	c.scope.SetRuntime(name, value)
}
