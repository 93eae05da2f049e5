// Package ecs exposes the registration surface between loaded packages and
// the entity-component runtime. Plugins populate a factory registry through
// a capability bridge; the runtime looks factories up by name to instantiate
// components and systems on demand.
package ecs

import (
	"fmt"
	"sync"
)

// Entity identifies an entity in the runtime. The runtime passes it to
// component factories; this subsystem never dereferences it.
type Entity uint64

// ComponentFactory attaches a component to an entity.
type ComponentFactory func(entity Entity)

// System is the runtime-side contract a system factory produces. The update
// loop itself lives outside this subsystem.
type System interface {
	Name() string
	Update(dt float64)
}

// SystemFactory creates a fresh system instance.
type SystemFactory func() System

type componentEntry struct {
	factory ComponentFactory
	owner   string
}

type systemEntry struct {
	factory SystemFactory
	owner   string
}

// FactoryRegistry holds the component and system factories registered by
// loaded packages and plugins. Each entry records the owner (package or
// plugin name) that registered it: an owner may replace its own entries,
// but a name held by a different owner is rejected, and unregistration
// only removes entries the caller still owns. It is written by every
// successful plugin load and read continuously by the runtime, so access
// goes through a reader-writer lock.
type FactoryRegistry struct {
	mu         sync.RWMutex
	components map[string]componentEntry
	systems    map[string]systemEntry
}

// NewFactoryRegistry creates an empty factory registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{
		components: make(map[string]componentEntry),
		systems:    make(map[string]systemEntry),
	}
}

// RegisterComponent adds a component factory under name on behalf of
// owner. A same-owner registration replaces the previous one; a name
// already held by a different owner is an error.
func (r *FactoryRegistry) RegisterComponent(owner, name string, factory ComponentFactory) error {
	if name == "" {
		return fmt.Errorf("component name must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("cannot register nil factory for component %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.components[name]; ok && existing.owner != owner {
		return fmt.Errorf("component %q is already registered by %q", name, existing.owner)
	}
	r.components[name] = componentEntry{factory: factory, owner: owner}
	return nil
}

// RegisterSystem adds a system factory under name on behalf of owner,
// with the same ownership rules as RegisterComponent.
func (r *FactoryRegistry) RegisterSystem(owner, name string, factory SystemFactory) error {
	if name == "" {
		return fmt.Errorf("system name must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("cannot register nil factory for system %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.systems[name]; ok && existing.owner != owner {
		return fmt.Errorf("system %q is already registered by %q", name, existing.owner)
	}
	r.systems[name] = systemEntry{factory: factory, owner: owner}
	return nil
}

// Component retrieves a component factory by name.
func (r *FactoryRegistry) Component(name string) (ComponentFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.components[name]
	return e.factory, ok
}

// System retrieves a system factory by name.
func (r *FactoryRegistry) System(name string) (SystemFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.systems[name]
	return e.factory, ok
}

// ComponentNames returns the registered component names in no particular
// order.
func (r *FactoryRegistry) ComponentNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	return names
}

// SystemNames returns the registered system names in no particular order.
func (r *FactoryRegistry) SystemNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.systems))
	for name := range r.systems {
		names = append(names, name)
	}
	return names
}

// UnregisterComponent removes owner's component factory. Missing names
// and names held by a different owner are a no-op; unload paths must stay
// idempotent and must never remove another owner's live factory.
func (r *FactoryRegistry) UnregisterComponent(owner, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.components[name]; ok && e.owner == owner {
		delete(r.components, name)
	}
}

// UnregisterSystem removes owner's system factory.
func (r *FactoryRegistry) UnregisterSystem(owner, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.systems[name]; ok && e.owner == owner {
		delete(r.systems, name)
	}
}
