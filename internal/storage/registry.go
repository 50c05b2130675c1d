package storage

import (
	"fmt"
	"sync"
)

// Registry maps backend names to factories.
type Registry struct {
	factories map[string]StorageFactory
	mu        sync.RWMutex
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]StorageFactory),
	}
}

// Register adds a factory under the given backend name.
func (r *Registry) Register(storageType string, factory StorageFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[storageType] = factory
}

// Create instantiates the backend registered under storageType.
func (r *Registry) Create(storageType string, config StorageConfig) (Storage, error) {
	r.mu.RLock()
	factory, exists := r.factories[storageType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("storage type %s not registered", storageType)
	}

	return factory.Create(config)
}

// IsRegistered reports whether a backend name has a factory.
func (r *Registry) IsRegistered(storageType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[storageType]
	return exists
}

// DefaultRegistry is the registry backends self-register into.
var DefaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(storageType string, factory StorageFactory) {
	DefaultRegistry.Register(storageType, factory)
}

// Create instantiates a backend from the default registry.
func Create(storageType string, config StorageConfig) (Storage, error) {
	return DefaultRegistry.Create(storageType, config)
}
