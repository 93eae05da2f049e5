// Package packages implements the package manager: the single owner of
// every loaded package and, through the native plugin loader, every loaded
// plugin. It drives the scan → resolve → load pipeline and is the only
// component that mutates the loaded set.
package packages

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/emberforge/ember/pkg/ecs"
	"github.com/emberforge/ember/pkg/engine"
	"github.com/emberforge/ember/pkg/manifest"
	"github.com/emberforge/ember/pkg/nativeplugin"
	"github.com/emberforge/ember/pkg/observability"
	"github.com/emberforge/ember/pkg/registry"
	"github.com/emberforge/ember/pkg/resolver"
	"github.com/emberforge/ember/pkg/version"
)

// Failure taxonomy for package operations.
var (
	ErrNotFound           = errors.New("package not found")
	ErrParse              = errors.New("package manifest is invalid")
	ErrEngineIncompatible = errors.New("package requires an incompatible engine version")
	ErrCircularDependency = errors.New("circular package dependency")
)

// LoadedPackage wraps a materialized manifest plus load state. Records are
// created by a successful load and destroyed by unload; a package that
// declares a plugin owns the loaded plugin for its entire loaded lifetime.
type LoadedPackage struct {
	ID         string             `json:"id"` // instance id, for log and debug correlation
	Name       string             `json:"name"`
	Dir        string             `json:"dir"`
	Manifest   *manifest.Manifest `json:"manifest"`
	PluginName string             `json:"pluginName,omitempty"`
	LoadedAt   time.Time          `json:"loadedAt"`

	bridge *ecs.Bridge
}

// ResourceLoader is the seam to the collaborators that materialize a
// package's non-native resources (script components, assets). The default
// manager runs without one; the surrounding engine injects its own.
type ResourceLoader interface {
	LoadResources(pkg *LoadedPackage, bridge *ecs.Bridge) error
}

// Manager owns the registry scanner, the loaded-package map and the native
// plugin loader. One operation lock serializes scan, load and unload as a
// unit; the individual collections have their own guards for readers.
type Manager struct {
	scanner   *registry.Scanner
	plugins   *nativeplugin.Loader
	factories *ecs.FactoryRegistry
	resources ResourceLoader
	resolver  *resolver.Resolver
	metrics   *observability.Metrics
	log       *logrus.Logger

	opMu sync.Mutex // serializes load/unload/scan operations

	stateMu sync.Mutex
	loaded  map[string]*LoadedPackage
	lastErr string
}

// Option configures a Manager.
type Option func(*Manager)

// WithResourceLoader injects the resource-loading collaborator.
func WithResourceLoader(rl ResourceLoader) Option {
	return func(m *Manager) { m.resources = rl }
}

// WithMetrics wires subsystem metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a package manager over the package root scanned by
// scanner, registering factories into factories.
func NewManager(scanner *registry.Scanner, factories *ecs.FactoryRegistry, log *logrus.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logrus.New()
	}
	m := &Manager{
		scanner:   scanner,
		plugins:   nativeplugin.NewLoader(factories, log),
		factories: factories,
		log:       log,
		loaded:    make(map[string]*LoadedPackage),
	}
	m.resolver = resolver.New(m)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PluginLoader exposes the native plugin loader for status queries. Load
// and unload of plugins stays inside the manager's package lifecycle.
func (m *Manager) PluginLoader() *nativeplugin.Loader {
	return m.plugins
}

// LastError returns the message of the most recent failing package
// operation, overwritten by each subsequent failure.
func (m *Manager) LastError() string {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.lastErr
}

func (m *Manager) fail(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	m.stateMu.Lock()
	m.lastErr = err.Error()
	m.stateMu.Unlock()
	return err
}

// ScanPackages rebuilds the available-package snapshot from disk.
func (m *Manager) ScanPackages() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.scan()
}

func (m *Manager) scan() {
	start := time.Now()
	m.scanner.Scan()
	m.metrics.ObserveScan(time.Since(start), len(m.scanner.AvailablePackages()))
}

// AvailablePackages returns the candidates from the last scan in
// filesystem enumeration order.
func (m *Manager) AvailablePackages() []string {
	return m.scanner.AvailablePackages()
}

// LoadedPackages returns the names of loaded packages, sorted.
func (m *Manager) LoadedPackages() []string {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsLoaded reports whether name is currently loaded.
func (m *Manager) IsLoaded(name string) bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	_, ok := m.loaded[name]
	return ok
}

// Package returns the loaded record for name.
func (m *Manager) Package(name string) (*LoadedPackage, bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	p, ok := m.loaded[name]
	return p, ok
}

// Manifest implements resolver.ManifestSource: loaded packages first, then
// scanned-but-unloaded ones, materialized lazily.
func (m *Manager) Manifest(name string) (*manifest.Manifest, bool) {
	m.stateMu.Lock()
	if p, ok := m.loaded[name]; ok {
		m.stateMu.Unlock()
		return p.Manifest, true
	}
	m.stateMu.Unlock()

	mf, err := m.scanner.LoadManifest(name)
	if err != nil {
		return nil, false
	}
	return mf, true
}

// LoadedVersion implements resolver.ManifestSource for the loaded set only.
func (m *Manager) LoadedVersion(name string) (string, bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	p, ok := m.loaded[name]
	if !ok {
		return "", false
	}
	return p.Manifest.Version, true
}

// CheckDependencies classifies the declared dependencies of name against
// the loaded set. Unknown packages degrade to a missing entry, never an
// error.
func (m *Manager) CheckDependencies(name string) resolver.Resolution {
	mf, ok := m.Manifest(name)
	if !ok {
		return resolver.Resolution{
			Missing:      []string{name},
			Incompatible: []string{},
		}
	}
	return m.resolver.CheckDependencies(mf)
}

// HasCircularDependency reports whether name participates in a dependency
// cycle.
func (m *Manager) HasCircularDependency(name string) bool {
	return m.resolver.HasCircularDependency(name)
}

// DependencyOrder returns the topological load order for name,
// dependencies first, name last. Callers must rule out cycles first.
func (m *Manager) DependencyOrder(name string) []string {
	return m.resolver.DependencyOrder(name)
}

// LoadPackage loads one package by name. Loading an already-loaded package
// is a successful no-op. The record is registered in the loaded map before
// resources load and rolled back if resource loading fails, so dependency
// queries during loading observe a consistent intermediate state.
func (m *Manager) LoadPackage(name string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.loadPackage(name)
}

func (m *Manager) loadPackage(name string) error {
	if m.IsLoaded(name) {
		m.log.Debugf("Package %q already loaded", name)
		return nil
	}

	dir, ok := m.scanner.PackageDir(name)
	if !ok {
		m.metrics.CountPackageLoad(false)
		return m.fail("%w: %q is not under the package root (re-scan?)", ErrNotFound, name)
	}

	mf, err := m.scanner.LoadManifest(name)
	if err != nil {
		m.metrics.CountPackageLoad(false)
		return m.fail("%w: %v", ErrParse, err)
	}
	if verrs := manifest.Validate(mf); len(verrs) > 0 {
		m.metrics.CountPackageLoad(false)
		return m.fail("%w: %s: %s", ErrParse, verrs[0].Field, verrs[0].Message)
	}

	if !version.IsCompatible(mf.EngineVersion, engine.Version) {
		m.metrics.CountPackageLoad(false)
		return m.fail("%w: %q requires engine %q, running %s",
			ErrEngineIncompatible, name, mf.EngineVersion, engine.Version)
	}

	pkg := &LoadedPackage{
		ID:       uuid.NewString(),
		Name:     name,
		Dir:      dir,
		Manifest: mf,
		LoadedAt: time.Now(),
		bridge:   ecs.NewBridge(m.factories, m.log, name),
	}

	// Registered before resources load; rolled back below on failure.
	m.stateMu.Lock()
	m.loaded[name] = pkg
	m.stateMu.Unlock()

	if err := m.loadResources(pkg); err != nil {
		m.stateMu.Lock()
		delete(m.loaded, name)
		m.stateMu.Unlock()
		pkg.bridge.Revoke()
		m.metrics.CountPackageLoad(false)
		return m.fail("failed to load package %q: %w", name, err)
	}

	m.metrics.CountPackageLoad(true)
	m.updateLoadedGauges()

	m.log.WithFields(logrus.Fields{
		"package":  name,
		"version":  mf.Version,
		"instance": pkg.ID,
	}).Info("Loaded package")
	return nil
}

// loadResources materializes what the package contributes: its native
// plugin if it declares an autoloading one, then whatever the injected
// resource loader adds.
func (m *Manager) loadResources(pkg *LoadedPackage) error {
	if p := pkg.Manifest.Plugin; p != nil && p.Autoload {
		libPath := filepath.Join(pkg.Dir, p.Library)
		info, err := m.plugins.LoadPluginEntry(libPath, p.Main)
		m.metrics.CountPluginLoad(err == nil)
		if err != nil {
			return err
		}
		pkg.PluginName = info.Name
	}

	if m.resources != nil {
		if err := m.resources.LoadResources(pkg, pkg.bridge); err != nil {
			m.unwindPlugin(pkg)
			return err
		}
	}

	return nil
}

func (m *Manager) unwindPlugin(pkg *LoadedPackage) {
	if pkg.PluginName == "" {
		return
	}
	err := m.plugins.UnloadPlugin(pkg.PluginName)
	m.metrics.CountPluginUnload(err == nil)
	if err != nil {
		m.log.WithError(err).Warnf("Failed to unwind plugin %q", pkg.PluginName)
	}
	pkg.PluginName = ""
}

// LoadPackageWithDependencies scans, computes the load order for name and
// loads every package in that order. It stops at the first failure;
// dependencies loaded before the failure stay loaded. There is no rollback
// on this path.
func (m *Manager) LoadPackageWithDependencies(name string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.scan()

	if m.resolver.HasCircularDependency(name) {
		return m.fail("%w: involving %q", ErrCircularDependency, name)
	}

	for _, dep := range m.resolver.DependencyOrder(name) {
		if err := m.loadPackage(dep); err != nil {
			return fmt.Errorf("loading %q (dependency of %q): %w", dep, name, err)
		}
	}
	return nil
}

// UnloadPackage unloads one package: its plugin first, then its resource
// registrations, then the record. Dependents of the package are not
// checked; unloading a package another one depends on is the caller's
// responsibility.
func (m *Manager) UnloadPackage(name string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.stateMu.Lock()
	pkg, ok := m.loaded[name]
	m.stateMu.Unlock()
	if !ok {
		m.metrics.CountPackageUnload(false)
		return m.fail("%w: %q is not loaded", ErrNotFound, name)
	}

	// The plugin is unloaded strictly before the package record is
	// erased; the record owns it.
	m.unwindPlugin(pkg)
	pkg.bridge.Revoke()

	m.stateMu.Lock()
	delete(m.loaded, name)
	m.stateMu.Unlock()

	m.metrics.CountPackageUnload(true)
	m.updateLoadedGauges()

	m.log.WithField("package", name).Info("Unloaded package")
	return nil
}

// UnloadAllPackages unloads every loaded package over a name snapshot.
func (m *Manager) UnloadAllPackages() {
	for _, name := range m.LoadedPackages() {
		if err := m.UnloadPackage(name); err != nil {
			m.log.WithError(err).Warnf("Failed to unload package %q", name)
		}
	}
}

func (m *Manager) updateLoadedGauges() {
	m.stateMu.Lock()
	packages := len(m.loaded)
	m.stateMu.Unlock()
	m.metrics.SetLoaded(packages, len(m.plugins.LoadedPlugins()))
}
