package provider

import (
	"fmt"
	"sync"
)

// Registry manages backend adapters.
type Registry struct {
	adapters map[string]Adapter
	mu       sync.RWMutex
}

// NewRegistry creates a new adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register registers an adapter under its name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get retrieves an adapter by name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("backend '%s' not registered", name)
	}
	return a, nil
}

// List returns all registered adapter names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// Global registry; adapters register themselves in init.
var globalRegistry = NewRegistry()

// Register registers an adapter globally.
func Register(a Adapter) {
	globalRegistry.Register(a)
}

// Get retrieves an adapter from the global registry.
func Get(name string) (Adapter, error) {
	return globalRegistry.Get(name)
}

// List returns all globally registered adapter names.
func List() []string {
	return globalRegistry.List()
}

var defaultBaseURLs = map[string]string{
	"anthropic": "https://api.anthropic.com",
	"openai":    "https://api.openai.com/v1",
	"gemini":    "https://generativelanguage.googleapis.com/v1beta",
}

// DefaultBaseURL returns the public API endpoint for a backend, empty when
// unknown.
func DefaultBaseURL(name string) string {
	return defaultBaseURLs[name]
}
