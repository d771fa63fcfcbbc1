package device

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a backend.
type Factory func() Backend

// Registry names.
const (
	BackendVulkan   = "vulkan"
	BackendSoftware = "software"
	BackendNoop     = "noop"
)

var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for Default (first available wins). The noop
	// backend is never chosen implicitly.
	backendPriority = []string{BackendVulkan, BackendSoftware}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Get returns a backend by name.
func Get(name string) (Backend, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
	}
	b := factory()
	if b == nil {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
	}
	return b, nil
}

// Default returns the best available backend by priority:
// vulkan > software. Returns ErrBackendNotAvailable if none is usable.
func Default() (Backend, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, name := range backendPriority {
		if factory, ok := backends[name]; ok {
			if b := factory(); b != nil {
				return b, nil
			}
		}
	}
	return nil, ErrBackendNotAvailable
}

// Select returns the named backend, or Default when name is empty.
func Select(name string) (Backend, error) {
	if name == "" {
		return Default()
	}
	return Get(name)
}

// Candidates returns every usable backend in priority order. Callers that
// did not ask for a specific backend try them in turn and fall back when
// instance creation fails.
func Candidates() []Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var out []Backend
	for _, name := range backendPriority {
		if factory, ok := backends[name]; ok {
			if b := factory(); b != nil {
				out = append(out, b)
			}
		}
	}
	return out
}
