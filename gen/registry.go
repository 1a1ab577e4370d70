package gen

import (
	"sort"
	"sync"

	"github.com/fyrean/genstudio/types"
)

// Registry is a thread-safe registry of provider adapters keyed by provider
// id. It is the single place provider names are branched on; everything else
// dispatches through the Adapter interface.
type Registry struct {
	adapters map[string]Adapter
	mu       sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its capability name. An existing adapter
// with the same name is replaced.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Capabilities().Name] = a
}

// Get retrieves an adapter by provider id.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "provider not registered").WithProvider(name)
	}
	return a, nil
}

// List returns the sorted ids of all registered adapters.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}
