package secret

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderFactory creates a Provider from its configuration block.
type ProviderFactory func(cfg map[string]string) (Provider, error)

// Registry maps provider names to factories so configuration can enable
// providers by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

// Builtins returns a registry with the env and file providers.
//
//	env:  prefix (optional)
//	file: dir (required)
func Builtins() *Registry {
	r := NewRegistry()
	_ = r.Register("env", func(cfg map[string]string) (Provider, error) {
		return NewEnvProvider(cfg["prefix"]), nil
	})
	_ = r.Register("file", func(cfg map[string]string) (Provider, error) {
		dir := strings.TrimSpace(cfg["dir"])
		if dir == "" {
			return nil, fmt.Errorf("%w: file provider requires dir", ErrInvalidRef)
		}
		return NewFileProvider(dir), nil
	})
	return r
}

// Register adds a factory. Names are unique.
func (r *Registry) Register(name string, factory ProviderFactory) error {
	name = strings.TrimSpace(name)
	if name == "" || factory == nil {
		return fmt.Errorf("secret: invalid provider registration %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("secret: provider %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Build creates one provider per configured name, in name order.
func (r *Registry) Build(configs map[string]map[string]string) ([]Provider, error) {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		factory, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
		}
		p, err := factory(configs[name])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
