package nativeplugin

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberforge/ember/pkg/ecs"
	"github.com/emberforge/ember/pkg/engine"
)

// fakeLib implements dylib over a symbol table of Go functions. Lookup
// assigns the table entry to the caller's function variable, so the loader
// runs against it exactly as it would against a real library.
type fakeLib struct {
	symbols map[string]any
	events  *[]string
	closed  bool
}

func (f *fakeLib) Lookup(fn any, name string) error {
	impl, ok := f.symbols[name]
	if !ok {
		return fmt.Errorf("undefined symbol: %s", name)
	}
	reflect.ValueOf(fn).Elem().Set(reflect.ValueOf(impl))
	return nil
}

func (f *fakeLib) Close() error {
	f.closed = true
	*f.events = append(*f.events, "close")
	return nil
}

// fakePluginLib builds a well-behaved plugin library reporting the given
// name and ABI version. Lifecycle calls append to events.
func fakePluginLib(name string, abi int32, events *[]string) *fakeLib {
	return &fakeLib{
		events: events,
		symbols: map[string]any{
			SymbolABIVersion: func() int32 { return abi },
			SymbolCreate: func() uintptr {
				*events = append(*events, "create")
				return 0xbeef
			},
			SymbolDestroy: func(instance uintptr) {
				*events = append(*events, "destroy")
			},
			SymbolOnLoad: func(instance, vtable uintptr) int32 {
				*events = append(*events, "onLoad")
				return 1
			},
			SymbolOnUnload: func(instance uintptr) {
				*events = append(*events, "onUnload")
			},
			SymbolName:        func(uintptr) string { return name },
			SymbolVersion:     func(uintptr) string { return "1.2.0" },
			SymbolDescription: func(uintptr) string { return "test plugin" },
			SymbolAuthor:      func(uintptr) string { return "tests" },
		},
	}
}

// newTestLoader wires a loader whose opener hands out libs from a table
// keyed by file base name.
func newTestLoader(t *testing.T, libs map[string]*fakeLib) (*Loader, *ecs.FactoryRegistry) {
	t.Helper()
	registry := ecs.NewFactoryRegistry()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	l := NewLoader(registry, log)
	l.open = func(path string) (dylib, error) {
		lib, ok := libs[filepath.Base(path)]
		if !ok {
			return nil, fmt.Errorf("no such library: %s", path)
		}
		return lib, nil
	}
	return l, registry
}

// touch creates an empty file so the loader's existence check passes.
func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte{0}, 0644))
	return path
}

func TestLoadPlugin_Success(t *testing.T) {
	var events []string
	l, _ := newTestLoader(t, map[string]*fakeLib{
		"libgood.so": fakePluginLib("good", int32(engine.PluginABIVersion), &events),
	})
	path := touch(t, t.TempDir(), "libgood.so")

	info, err := l.LoadPlugin(path)
	require.NoError(t, err)
	assert.Equal(t, "good", info.Name)
	assert.Equal(t, "1.2.0", info.Version)
	assert.Equal(t, engine.PluginABIVersion, info.APIVersion)
	assert.Equal(t, []string{"create", "onLoad"}, events)
	assert.Equal(t, []string{"good"}, l.LoadedPlugins())

	got, ok := l.PluginInfo("good")
	require.True(t, ok)
	assert.Equal(t, info, got)
}

func TestLoadPlugin_MissingFile(t *testing.T) {
	l, _ := newTestLoader(t, nil)

	_, err := l.LoadPlugin(filepath.Join(t.TempDir(), "nope.so"))
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, l.LastError(), "nope.so")
	assert.Empty(t, l.LoadedPlugins())
}

func TestLoadPlugin_ABIMismatch(t *testing.T) {
	var events []string
	lib := fakePluginLib("old", int32(engine.PluginABIVersion-1), &events)
	l, _ := newTestLoader(t, map[string]*fakeLib{"libold.so": lib})
	path := touch(t, t.TempDir(), "libold.so")

	_, err := l.LoadPlugin(path)
	require.ErrorIs(t, err, ErrABIMismatch)

	// The library is closed immediately and no plugin code beyond the
	// version export ever ran.
	assert.True(t, lib.closed)
	assert.Equal(t, []string{"close"}, events)
	assert.Empty(t, l.LoadedPlugins())
}

func TestLoadPlugin_MissingExport(t *testing.T) {
	var events []string
	lib := fakePluginLib("partial", int32(engine.PluginABIVersion), &events)
	delete(lib.symbols, SymbolOnLoad)
	l, _ := newTestLoader(t, map[string]*fakeLib{"libpartial.so": lib})
	path := touch(t, t.TempDir(), "libpartial.so")

	_, err := l.LoadPlugin(path)
	require.ErrorIs(t, err, ErrMissingExport)
	assert.True(t, lib.closed)
	assert.Empty(t, l.LoadedPlugins())
}

func TestLoadPlugin_LoadCallbackDeclines(t *testing.T) {
	var events []string
	lib := fakePluginLib("refuser", int32(engine.PluginABIVersion), &events)
	lib.symbols[SymbolOnLoad] = func(instance, vtable uintptr) int32 {
		*lib.events = append(*lib.events, "onLoad")
		return 0
	}
	l, _ := newTestLoader(t, map[string]*fakeLib{"librefuser.so": lib})
	path := touch(t, t.TempDir(), "librefuser.so")

	_, err := l.LoadPlugin(path)
	require.ErrorIs(t, err, ErrInitFailed)

	// Full rollback: instance destroyed before the library closes.
	assert.Equal(t, []string{"create", "onLoad", "destroy", "close"}, events)
	assert.Empty(t, l.LoadedPlugins())
}

func TestLoadPlugin_LoadCallbackPanics(t *testing.T) {
	var events []string
	lib := fakePluginLib("bomber", int32(engine.PluginABIVersion), &events)
	lib.symbols[SymbolOnLoad] = func(instance, vtable uintptr) int32 {
		panic("boom")
	}
	l, _ := newTestLoader(t, map[string]*fakeLib{"libbomber.so": lib})
	path := touch(t, t.TempDir(), "libbomber.so")

	_, err := l.LoadPlugin(path)
	require.ErrorIs(t, err, ErrInitFailed)
	assert.Contains(t, l.LastError(), "panicked")
	assert.True(t, lib.closed)
	assert.Empty(t, l.LoadedPlugins())
}

func TestLoadPlugin_NameCollision(t *testing.T) {
	var firstEvents, secondEvents []string
	first := fakePluginLib("shared-name", int32(engine.PluginABIVersion), &firstEvents)
	second := fakePluginLib("shared-name", int32(engine.PluginABIVersion), &secondEvents)
	l, _ := newTestLoader(t, map[string]*fakeLib{
		"libfirst.so":  first,
		"libsecond.so": second,
	})
	dir := t.TempDir()

	_, err := l.LoadPlugin(touch(t, dir, "libfirst.so"))
	require.NoError(t, err)

	_, err = l.LoadPlugin(touch(t, dir, "libsecond.so"))
	require.ErrorIs(t, err, ErrNameCollision)

	// The second library is rolled back; the first stays loaded and
	// untouched.
	assert.Equal(t, []string{"create", "destroy", "close"}, secondEvents)
	assert.Equal(t, []string{"create", "onLoad"}, firstEvents)
	assert.Equal(t, []string{"shared-name"}, l.LoadedPlugins())
	assert.False(t, first.closed)
}

func TestLoadPlugin_ConcurrentSameName(t *testing.T) {
	var firstEvents, secondEvents []string
	first := fakePluginLib("shared", int32(engine.PluginABIVersion), &firstEvents)
	second := fakePluginLib("shared", int32(engine.PluginABIVersion), &secondEvents)

	// The first library's load callback parks until released, holding the
	// load mid-flight while another library claims the same name.
	entered := make(chan struct{})
	release := make(chan struct{})
	first.symbols[SymbolOnLoad] = func(instance, vtable uintptr) int32 {
		close(entered)
		<-release
		return 1
	}

	l, _ := newTestLoader(t, map[string]*fakeLib{
		"libfirst.so":  first,
		"libsecond.so": second,
	})
	dir := t.TempDir()
	firstPath := touch(t, dir, "libfirst.so")
	secondPath := touch(t, dir, "libsecond.so")

	done := make(chan error, 1)
	go func() {
		_, err := l.LoadPlugin(firstPath)
		done <- err
	}()
	<-entered

	// The name is claimed before the callback runs, so the overlapping
	// load must fail and roll back instead of overwriting the record.
	_, err := l.LoadPlugin(secondPath)
	require.ErrorIs(t, err, ErrNameCollision)
	assert.Equal(t, []string{"create", "destroy", "close"}, secondEvents)
	assert.False(t, first.closed)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"shared"}, l.LoadedPlugins())
}

func TestUnloadPlugin_Ordering(t *testing.T) {
	var events []string
	lib := fakePluginLib("victim", int32(engine.PluginABIVersion), &events)
	l, _ := newTestLoader(t, map[string]*fakeLib{"libvictim.so": lib})
	path := touch(t, t.TempDir(), "libvictim.so")

	_, err := l.LoadPlugin(path)
	require.NoError(t, err)

	require.NoError(t, l.UnloadPlugin("victim"))

	// Destruction must happen through the still-open library: the
	// destructor code lives inside it.
	assert.Equal(t, []string{"create", "onLoad", "onUnload", "destroy", "close"}, events)
	assert.Empty(t, l.LoadedPlugins())

	err = l.UnloadPlugin("victim")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUnloadAllPlugins(t *testing.T) {
	var aEvents, bEvents []string
	l, _ := newTestLoader(t, map[string]*fakeLib{
		"liba.so": fakePluginLib("a", int32(engine.PluginABIVersion), &aEvents),
		"libb.so": fakePluginLib("b", int32(engine.PluginABIVersion), &bEvents),
	})
	dir := t.TempDir()

	_, err := l.LoadPlugin(touch(t, dir, "liba.so"))
	require.NoError(t, err)
	_, err = l.LoadPlugin(touch(t, dir, "libb.so"))
	require.NoError(t, err)

	l.UnloadAllPlugins()
	assert.Empty(t, l.LoadedPlugins())
}

func TestLoadPlugin_LastErrorOverwritten(t *testing.T) {
	var events []string
	lib := fakePluginLib("old", int32(engine.PluginABIVersion+5), &events)
	l, _ := newTestLoader(t, map[string]*fakeLib{"libold.so": lib})
	dir := t.TempDir()

	_, err := l.LoadPlugin(filepath.Join(dir, "missing.so"))
	require.Error(t, err)
	assert.Contains(t, l.LastError(), "missing.so")

	_, err = l.LoadPlugin(touch(t, dir, "libold.so"))
	require.Error(t, err)
	assert.Contains(t, l.LastError(), "ABI")
	assert.NotContains(t, l.LastError(), "missing.so")
}

// TestLoadPlugin_VTableRegistration drives the real callback table the way
// native code would: the fake's load callback invokes the C trampolines
// with C string pointers, and unloading revokes what was registered.
func TestLoadPlugin_VTableRegistration(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("callback trampolines exercised on unix only")
	}

	componentName := append([]byte("NativeTransform"), 0)
	var factoryCalls []uintptr
	factory := purego.NewCallback(func(entity uintptr) uintptr {
		factoryCalls = append(factoryCalls, entity)
		return 0
	})

	var events []string
	lib := fakePluginLib("native", int32(engine.PluginABIVersion), &events)
	lib.symbols[SymbolOnLoad] = func(instance, vtable uintptr) int32 {
		vt := (*hostVTable)(unsafe.Pointer(vtable))
		purego.SyscallN(vt.registerComponent, uintptr(unsafe.Pointer(&componentName[0])), factory)
		return 1
	}

	l, registry := newTestLoader(t, map[string]*fakeLib{"libnative.so": lib})
	path := touch(t, t.TempDir(), "libnative.so")

	_, err := l.LoadPlugin(path)
	require.NoError(t, err)
	runtime.KeepAlive(componentName)

	componentFactory, ok := registry.Component("NativeTransform")
	require.True(t, ok, "expected component registered through the vtable")

	componentFactory(ecs.Entity(7))
	require.Equal(t, []uintptr{7}, factoryCalls)

	// Unloading revokes the plugin's factories before the library closes.
	require.NoError(t, l.UnloadPlugin("native"))
	_, ok = registry.Component("NativeTransform")
	assert.False(t, ok, "expected factory revoked on unload")
}
