package backend

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/atmos/gpucore"
)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
	// Priority order for backend selection (first device that opens wins).
	// Native > Sim (Sim is the headless fallback).
	backendPriority = []string{NameNative, NameSim}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the sorted names of registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Open opens a device from the named backend. An empty name selects the
// first backend in priority order that opens successfully; backends outside
// the priority list are tried last in name order.
func Open(ctx context.Context, name string) (gpucore.Device, error) {
	if name != "" {
		registryMu.RLock()
		factory, ok := factories[name]
		registryMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
		}
		return open(ctx, name, factory)
	}
	return Default(ctx)
}

// Default opens a device from the best available backend.
func Default(ctx context.Context) (gpucore.Device, error) {
	registryMu.RLock()
	order := make([]string, 0, len(factories))
	for _, name := range backendPriority {
		if _, ok := factories[name]; ok {
			order = append(order, name)
		}
	}
	var rest []string
	for name := range factories {
		if !slices.Contains(backendPriority, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	order = append(order, rest...)
	snapshot := make(map[string]Factory, len(order))
	for _, name := range order {
		snapshot[name] = factories[name]
	}
	registryMu.RUnlock()

	var errs []error
	for _, name := range order {
		dev, err := open(ctx, name, snapshot[name])
		if err == nil {
			return dev, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrBackendNotAvailable
	}
	return nil, fmt.Errorf("%w: %w", ErrBackendNotAvailable, errors.Join(errs...))
}

func open(ctx context.Context, name string, factory Factory) (gpucore.Device, error) {
	dev, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", name, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("backend %s: %w", name, ErrNilDevice)
	}
	return dev, nil
}
