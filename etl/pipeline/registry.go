package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps processor names to processors.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	processors map[string]Processor
	mu         sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[string]Processor),
	}
}

// Register adds a processor under its name.
// Panics if a processor is already registered with that name.
func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if name == "" {
		panic("processor name is required")
	}
	if _, exists := r.processors[name]; exists {
		panic(fmt.Sprintf("processor already registered for name: %s", name))
	}
	r.processors[name] = p
}

// Get returns the processor for name, or nil
func (r *Registry) Get(name string) Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.processors[name]
}

// Has checks if a processor is registered for name
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.processors[name]
	return exists
}

// Names returns all registered processor names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.processors))
	for name := range r.processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
