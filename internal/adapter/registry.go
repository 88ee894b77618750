package adapter

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/picklr-io/strata/internal/ir"
)

// Factory builds an adapter for a target.
type Factory func(target *ir.Target) (Adapter, error)

// Registry maps adapter names to factories and caches one adapter per target.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	adapters  map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		adapters:  make(map[string]Adapter),
	}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns the registered adapter names.
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

// For returns the adapter for target, creating it on first use.
func (r *Registry) For(target *ir.Target) (Adapter, error) {
	if target == nil {
		return nil, fmt.Errorf("no target configured")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.adapters[target.Name]; ok {
		return a, nil
	}

	f, ok := r.factories[target.Adapter]
	if !ok {
		return nil, fmt.Errorf("unknown adapter %q for target %q", target.Adapter, target.Name)
	}
	a, err := f(target)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize adapter %q for target %q: %w", target.Adapter, target.Name, err)
	}
	r.adapters[target.Name] = a
	return a, nil
}

// Close closes every adapter created by the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, a := range r.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close adapter for target %s: %w", name, err))
		}
		delete(r.adapters, name)
	}
	return errors.Join(errs...)
}
