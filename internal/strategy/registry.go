package strategy

import (
	"sort"
	"sync"

	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// Registry manages all available strategies.
type Registry interface {
	Register(strategy Strategy) error
	Get(name string) (Strategy, error)
	List() []string
	Remove(name string) error
}

// RegistryV1 is the default in-memory registry.
type RegistryV1 struct {
	strategies map[string]Strategy
	mu         sync.RWMutex
}

// NewRegistry creates a new strategy registry.
func NewRegistry() Registry {
	return &RegistryV1{
		strategies: make(map[string]Strategy),
		mu:         sync.RWMutex{},
	}
}

// Register adds a strategy to the registry.
func (r *RegistryV1) Register(strategy Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strategy.Name()
	if _, exists := r.strategies[name]; exists {
		return errors.Newf(errors.KindConflictingDefinition, name,
			"strategy %q already registered", name)
	}

	r.strategies[name] = strategy

	return nil
}

// Get retrieves a strategy by name.
func (r *RegistryV1) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	strategy, exists := r.strategies[name]
	if !exists {
		return nil, errors.Newf(errors.KindStrategyNotFound, name,
			"strategy %q not registered", name)
	}

	return strategy, nil
}

// List returns all registered strategy names, sorted.
func (r *RegistryV1) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Remove removes a strategy from the registry.
func (r *RegistryV1) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[name]; !exists {
		return errors.Newf(errors.KindStrategyNotFound, name,
			"strategy %q not registered", name)
	}

	delete(r.strategies, name)

	return nil
}
