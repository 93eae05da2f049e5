package ecs

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/emberforge/ember/pkg/engine"
)

// Bridge is the capability surface handed to a package or plugin while it
// loads. It is bound to one factory registry and one log context; plugins
// never see the registry or the loader directly. The bridge records every
// registration made through it so the owner's factories can be revoked as
// a unit when the owner unloads or fails mid-load.
type Bridge struct {
	registry *FactoryRegistry
	owner    string
	log      *logrus.Entry

	mu         sync.Mutex
	components []string
	systems    []string
}

// NewBridge creates a bridge bound to registry. Registrations carry the
// owning plugin or package name, and log lines are tagged with it so
// operators can attribute them.
func NewBridge(registry *FactoryRegistry, log *logrus.Logger, owner string) *Bridge {
	if log == nil {
		log = logrus.New()
	}
	return &Bridge{
		registry: registry,
		owner:    owner,
		log:      log.WithField("plugin", owner),
	}
}

// RegisterComponent registers a component factory on behalf of the owner.
func (b *Bridge) RegisterComponent(name string, factory ComponentFactory) error {
	if err := b.registry.RegisterComponent(b.owner, name, factory); err != nil {
		return err
	}
	b.mu.Lock()
	b.components = append(b.components, name)
	b.mu.Unlock()
	return nil
}

// RegisterSystem registers a system factory on behalf of the owner.
func (b *Bridge) RegisterSystem(name string, factory SystemFactory) error {
	if err := b.registry.RegisterSystem(b.owner, name, factory); err != nil {
		return err
	}
	b.mu.Lock()
	b.systems = append(b.systems, name)
	b.mu.Unlock()
	return nil
}

// Revoke unregisters everything the owner registered through this bridge.
// It runs before the owner's library is closed so the registry never holds
// a factory whose code has been unmapped.
func (b *Bridge) Revoke() {
	b.mu.Lock()
	components := b.components
	systems := b.systems
	b.components = nil
	b.systems = nil
	b.mu.Unlock()

	for _, name := range components {
		b.registry.UnregisterComponent(b.owner, name)
	}
	for _, name := range systems {
		b.registry.UnregisterSystem(b.owner, name)
	}
}

// Log writes an informational message attributed to the owner.
func (b *Bridge) Log(message string) {
	b.log.Info(message)
}

// LogWarning writes a warning attributed to the owner.
func (b *Bridge) LogWarning(message string) {
	b.log.Warn(message)
}

// LogError writes an error attributed to the owner.
func (b *Bridge) LogError(message string) {
	b.log.Error(message)
}

// EngineAPIVersion returns the plugin ABI version the engine was compiled
// with.
func (b *Bridge) EngineAPIVersion() int {
	return engine.PluginABIVersion
}
