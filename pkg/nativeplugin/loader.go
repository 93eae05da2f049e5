// Package nativeplugin loads native dynamic libraries that extend the
// engine with components and systems. A library passes an ABI version gate
// before any of its code that assumes engine type layouts runs, exposes a
// create/destroy pair for its plugin instance, and receives a capability
// bridge during its load callback. Failure anywhere rolls the library all
// the way back out of the process.
package nativeplugin

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/emberforge/ember/pkg/ecs"
	"github.com/emberforge/ember/pkg/engine"
)

// Failure taxonomy. Callers branch on these with errors.Is; the string
// form of the whole chain is also retained as the last error.
var (
	ErrNotFound      = errors.New("plugin library not found")
	ErrABIMismatch   = errors.New("plugin ABI version mismatch")
	ErrMissingExport = errors.New("plugin is missing a required export")
	ErrNameCollision = errors.New("plugin name already loaded")
	ErrInitFailed    = errors.New("plugin load callback failed")
)

// Plugin is a loaded native plugin: the open library handle, the opaque
// instance the library created, the capability bridge its registrations
// went through, and its self-reported metadata. Owned exclusively by the
// Loader.
type Plugin struct {
	Path string
	Info Info

	state    State
	lib      dylib
	exports  *exports
	instance uintptr
	bridge   *ecs.Bridge
	vtable   *hostVTable // keeps the callback table reachable while loaded
}

// Loader loads and unloads native plugins. It holds no state for a plugin
// beyond the record created by a successful load, and is safe for use from
// multiple goroutines.
type Loader struct {
	registry *ecs.FactoryRegistry
	log      *logrus.Logger
	open     dylibOpener
	abi      int

	mu      sync.Mutex
	plugins map[string]*Plugin
	lastErr string
}

// NewLoader creates a loader that registers plugin factories into registry.
func NewLoader(registry *ecs.FactoryRegistry, log *logrus.Logger) *Loader {
	if log == nil {
		log = logrus.New()
	}
	return &Loader{
		registry: registry,
		log:      log,
		open:     openDylib,
		abi:      engine.PluginABIVersion,
		plugins:  make(map[string]*Plugin),
	}
}

// LastError returns the message of the most recent failing call. It is
// overwritten by the next failure, not queued.
func (l *Loader) LastError() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *Loader) fail(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	l.mu.Lock()
	l.lastErr = err.Error()
	l.mu.Unlock()
	return err
}

// LoadPlugin loads the library at path using the default create export.
func (l *Loader) LoadPlugin(path string) (Info, error) {
	return l.LoadPluginEntry(path, SymbolCreate)
}

// LoadPluginEntry loads the library at path with createSymbol as the
// instance factory export, for manifests that override the entry point.
func (l *Loader) LoadPluginEntry(path, createSymbol string) (Info, error) {
	if createSymbol == "" {
		createSymbol = SymbolCreate
	}

	if _, err := os.Stat(path); err != nil {
		return Info{}, l.fail("%w: %s", ErrNotFound, path)
	}

	lib, err := l.open(path)
	if err != nil {
		return Info{}, l.fail("failed to load plugin %s: %w", path, err)
	}

	// ABI gate first: nothing else from the library runs until the
	// version matches, and a mismatch closes the library immediately.
	var abiFn func() int32
	if err := lib.Lookup(&abiFn, SymbolABIVersion); err != nil {
		lib.Close()
		return Info{}, l.fail("%w: %v", ErrMissingExport, err)
	}
	if got := int(abiFn()); got != l.abi {
		lib.Close()
		return Info{}, l.fail("%w: library reports %d, engine requires %d", ErrABIMismatch, got, l.abi)
	}

	exp, err := resolveLifecycle(lib, createSymbol)
	if err != nil {
		lib.Close()
		return Info{}, l.fail("%w: %v", ErrMissingExport, err)
	}

	instance := exp.create()
	if instance == 0 {
		lib.Close()
		return Info{}, l.fail("%w: %s returned a null instance", ErrInitFailed, createSymbol)
	}

	info := exp.info(instance, l.abi)

	p := &Plugin{
		Path:     path,
		Info:     info,
		state:    StateLoading,
		lib:      lib,
		exports:  exp,
		instance: instance,
		bridge:   ecs.NewBridge(l.registry, l.log, info.Name),
	}
	p.vtable = newHostVTable(p.bridge)

	// The name is claimed in the same critical section that checks for a
	// collision, so a concurrent load of the same name fails here instead
	// of overwriting this record after both pass a separate check. The
	// claim is released below if the load callback fails.
	l.mu.Lock()
	if _, collision := l.plugins[info.Name]; collision {
		l.mu.Unlock()
		exp.destroy(instance)
		lib.Close()
		return Info{}, l.fail("%w: %q (from %s)", ErrNameCollision, info.Name, path)
	}
	l.plugins[info.Name] = p
	l.mu.Unlock()

	if err := l.invokeOnLoad(p); err != nil {
		// Anything the callback registered before failing is revoked;
		// a half-initialized plugin must leave nothing behind.
		l.mu.Lock()
		delete(l.plugins, info.Name)
		l.mu.Unlock()
		p.bridge.Revoke()
		exp.destroy(instance)
		lib.Close()
		return Info{}, l.fail("%w: %v", ErrInitFailed, err)
	}

	p.state = StateLoaded

	l.log.WithFields(logrus.Fields{
		"plugin":  info.Name,
		"version": info.Version,
		"path":    path,
	}).Info("Loaded native plugin")

	return info, nil
}

// invokeOnLoad runs the plugin's load callback with the host vtable. A
// panic inside the callback is absorbed here; third-party plugin content
// must not be able to crash the host by failing to load.
func (l *Loader) invokeOnLoad(p *Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("load callback panicked: %v", r)
		}
	}()

	if p.exports.onLoad(p.instance, p.vtable.pointer()) == 0 {
		return fmt.Errorf("load callback for %q declined", p.Info.Name)
	}
	return nil
}

// UnloadPlugin unwinds one plugin: unload callback, factory revocation,
// instance destruction through the still-open library, then the library
// itself. The destructor lives inside the library, so destruction strictly
// precedes the close.
func (l *Loader) UnloadPlugin(name string) error {
	l.mu.Lock()
	p, ok := l.plugins[name]
	if !ok {
		l.mu.Unlock()
		return l.fail("%w: %q is not loaded", ErrNotFound, name)
	}
	delete(l.plugins, name)
	l.mu.Unlock()

	p.state = StateUnloading

	func() {
		defer func() {
			if r := recover(); r != nil {
				l.log.Errorf("Plugin %q unload callback panicked: %v", name, r)
			}
		}()
		p.exports.onUnload(p.instance)
	}()

	p.bridge.Revoke()
	p.exports.destroy(p.instance)
	p.instance = 0

	if err := p.lib.Close(); err != nil {
		p.state = StateUnloaded
		return l.fail("plugin %q unloaded but library close failed: %w", name, err)
	}
	p.state = StateUnloaded

	l.log.WithField("plugin", name).Info("Unloaded native plugin")
	return nil
}

// UnloadAllPlugins unloads every plugin. It iterates a snapshot of the
// current names, so records erased while unloading do not disturb the
// iteration.
func (l *Loader) UnloadAllPlugins() {
	for _, name := range l.LoadedPlugins() {
		if err := l.UnloadPlugin(name); err != nil {
			l.log.WithError(err).Warnf("Failed to unload plugin %q", name)
		}
	}
}

// LoadedPlugins returns the names of loaded plugins, sorted.
func (l *Loader) LoadedPlugins() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.plugins))
	for name := range l.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PluginInfo returns the metadata of a loaded plugin.
func (l *Loader) PluginInfo(name string) (Info, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.plugins[name]
	if !ok {
		return Info{}, false
	}
	return p.Info, true
}
