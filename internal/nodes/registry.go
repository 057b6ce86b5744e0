package nodes

import (
	"fmt"
	"sync"
)

// Registry maps node type tags to handlers. Populated once at startup
// by the composition root; lookups at run time are read-only.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Type()]; exists {
		return fmt.Errorf("handler already registered for node type %q", h.Type())
	}
	r.handlers[h.Type()] = h
	return nil
}

// SetFallback installs the handler used for unknown node types.
func (r *Registry) SetFallback(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Get returns the handler for a node type, falling back to the
// registered fallback. The second return is false only when neither
// exists.
func (r *Registry) Get(nodeType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[nodeType]; ok {
		return h, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
