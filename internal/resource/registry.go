package resource

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps resource type names to their policies. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewRegistry returns a registry holding types. Later entries replace
// earlier ones with the same name.
func NewRegistry(types ...Type) *Registry {
	r := &Registry{types: make(map[string]Type, len(types))}
	for _, t := range types {
		r.types[t.Name()] = t
	}
	return r
}

// DefaultRegistry returns the built-in types, overridden and extended by
// the declarations in typesDir when it is non-empty.
func DefaultRegistry(typesDir string) (*Registry, error) {
	builtin, err := Builtin()
	if err != nil {
		return nil, fmt.Errorf("compile builtin types: %w", err)
	}
	r := NewRegistry()
	for _, d := range builtin {
		r.Register(d)
	}
	if typesDir == "" {
		return r, nil
	}

	extra, err := LoadDir(typesDir)
	if err != nil {
		return nil, fmt.Errorf("load types from %s: %w", typesDir, err)
	}
	for _, d := range extra {
		r.Register(d)
	}
	return r, nil
}

// Register adds t, replacing any type with the same name.
func (r *Registry) Register(t Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.Name()] = t
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
