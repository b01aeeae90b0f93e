package vkfilter

import (
	"errors"
	"sync"
)

// Well-known backend names.
const (
	// BackendVulkan is the Vulkan compute engine provided by the
	// vulkan subpackage.
	BackendVulkan = "vulkan"
)

// ErrNoBackend is returned by Default when no backend is registered.
var ErrNoBackend = errors.New("vkfilter: no filter backend registered")

// Factory creates a new filter instance.
type Factory func(opts ...Option) (Filter, error)

// registry holds registered filter backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)

	// Priority order for backend selection (first available wins).
	// The compute engine outranks delegating backends.
	backendPriority = []string{BackendVulkan}
)

// Register registers a filter factory with the given name. This is
// typically called from init() functions in backend packages. If a
// backend with the same name is already registered, it is replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry. This is useful for
// testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the names of all registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}

// IsRegistered checks whether a backend with the given name exists.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// New creates a filter from the named backend, or nil when the backend
// is not registered.
func New(name string, opts ...Option) (Filter, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.New("vkfilter: backend not registered: " + name)
	}
	return factory(opts...)
}

// Default creates a filter from the best available backend: the priority
// list first, then any other registered backend.
func Default(opts ...Option) (Filter, error) {
	registryMu.RLock()
	var factory Factory
	for _, name := range backendPriority {
		if f, ok := backends[name]; ok {
			factory = f
			break
		}
	}
	if factory == nil {
		for _, f := range backends {
			factory = f
			break
		}
	}
	registryMu.RUnlock()

	if factory == nil {
		return nil, ErrNoBackend
	}
	return factory(opts...)
}
