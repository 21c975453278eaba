package tools

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds every tool the gateway knows how to dispatch,
// keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Definition
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Definition)}
}

// Register adds a tool definition, returning an error if the name is
// already taken.
func (r *Registry) Register(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tools: %q already registered", def.Name)
	}
	r.tools[def.Name] = def
	return nil
}

// MustRegister is Register but panics on error, for use during
// bootstrap where a duplicate name is a programming error.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get looks up a tool definition by name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// List returns every registered tool definition, sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call invokes the named tool's handler, returning NotFound if no
// such tool is registered.
func (r *Registry) Call(name string, req *CallRequest) (*CallResult, error) {
	def, ok := r.Get(name)
	if !ok {
		return nil, NewToolError(ErrNotFound, fmt.Sprintf("unknown tool %q", name))
	}
	return def.Handler(req)
}
