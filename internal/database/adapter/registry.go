package adapter

import (
	"fmt"
	"sync"
)

// Registry holds the process's set of backend instances keyed by type. The
// selector owns one and treats it as its closed adapter set.
type Registry struct {
	mu       sync.RWMutex
	backends map[BackendType]Store
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[BackendType]Store),
	}
}

// Register adds a backend. Registering the same type twice replaces the
// previous instance.
func (r *Registry) Register(store Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[store.BackendType()] = store
}

// Get retrieves a backend by type.
func (r *Registry) Get(backend BackendType) (Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	store, ok := r.backends[backend]
	if !ok {
		return nil, fmt.Errorf("backend not registered: %s", backend)
	}
	return store, nil
}

// Types returns all registered backend types.
func (r *Registry) Types() []BackendType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]BackendType, 0, len(r.backends))
	for backend := range r.backends {
		types = append(types, backend)
	}
	return types
}

// Each invokes fn for every registered backend.
func (r *Registry) Each(fn func(backend BackendType, store Store)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for backend, store := range r.backends {
		fn(backend, store)
	}
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}
