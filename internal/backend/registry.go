package backend

import (
	"fmt"
	"sort"
	"sync"
)

// BackendInfo pairs a backend name with its capabilities.
type BackendInfo struct {
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

type registration struct {
	caps    Capabilities
	factory Factory
}

// Registry holds the executor factories available to a platform, keyed by
// backend name.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]registration
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]registration),
	}
}

// Register adds a backend factory to the registry under the given name.
func (r *Registry) Register(name string, caps Capabilities, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = registration{caps: caps, factory: f}
}

// Resolve returns the factory registered under name.
func (r *Registry) Resolve(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("backend %q is not registered", name)
	}
	return reg.factory, nil
}

// New resolves name and creates an executor with opts.
func (r *Registry) New(name string, opts Options) (Executor, error) {
	f, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	exec, err := f(opts)
	if err != nil {
		return nil, fmt.Errorf("create %s executor: %w", name, err)
	}
	return exec, nil
}

// List returns information about all registered backends, sorted by name
// for a stable API response.
func (r *Registry) List() []BackendInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]BackendInfo, 0, len(r.backends))
	for name, reg := range r.backends {
		infos = append(infos, BackendInfo{
			Name:         name,
			Capabilities: reg.caps,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
