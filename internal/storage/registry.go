package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"token-broker/internal/common/errors"
)

// Registry maps backend names to factories. Backend packages register
// themselves from init, the way database/sql drivers do.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]StorageFactory
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]StorageFactory)}
}

// Register panics on a nil factory or a name registered twice.
func (r *Registry) Register(name string, factory StorageFactory) {
	if factory == nil {
		panic("storage: Register factory is nil for " + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.backends[name]; dup {
		panic("storage: Register called twice for " + name)
	}
	r.backends[name] = factory
}

// Open validates config and builds the backend named by config.GetType().
func (r *Registry) Open(config StorageConfig) (Storage, error) {
	name := config.GetType()

	r.mu.RLock()
	factory, ok := r.backends[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.ConfigError(fmt.Sprintf("storage backend %q is not registered (have: %s)",
			name, strings.Join(r.Names(), ", ")))
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return factory.Create(config)
}

// Names lists the registered backends, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[name]
	return ok
}

// DefaultRegistry holds the backends compiled into the binary.
var DefaultRegistry = NewRegistry()

func Register(name string, factory StorageFactory) {
	DefaultRegistry.Register(name, factory)
}

func Open(config StorageConfig) (Storage, error) {
	return DefaultRegistry.Open(config)
}
