package nativeplugin

// Exported symbol names a native plugin library must provide with C
// linkage. The ABI version export is resolved and called before anything
// else; a library whose reported version differs from the engine's
// compiled-in constant is closed without running any further plugin code.
const (
	SymbolABIVersion = "emberPluginABIVersion" // int32 (*)(void)
	SymbolCreate     = "emberPluginCreate"     // void* (*)(void), default entry; manifests may override
	SymbolDestroy    = "emberPluginDestroy"    // void (*)(void*)

	SymbolOnLoad   = "emberPluginOnLoad"   // int32 (*)(void* instance, host vtable*), non-zero on success
	SymbolOnUnload = "emberPluginOnUnload" // void (*)(void* instance)

	SymbolName        = "emberPluginName"        // const char* (*)(void* instance)
	SymbolVersion     = "emberPluginVersion"     // const char* (*)(void* instance)
	SymbolDescription = "emberPluginDescription" // const char* (*)(void* instance)
	SymbolAuthor      = "emberPluginAuthor"      // const char* (*)(void* instance)
)

// Info is the metadata a plugin reports about itself. Name is the
// de-duplication key across all loaded plugins.
type Info struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Author      string `json:"author"`
	APIVersion  int    `json:"apiVersion"`
}

// State tracks a plugin through its lifecycle.
type State string

const (
	StateUnloaded  State = "unloaded"
	StateLoading   State = "loading"
	StateLoaded    State = "loaded"
	StateUnloading State = "unloading"
)

// exports holds the typed bindings resolved from a plugin library,
// constructed once immediately after the raw symbols resolve. The loader
// calls plugin code only through these bindings.
type exports struct {
	create   func() uintptr
	destroy  func(uintptr)
	onLoad   func(instance, vtable uintptr) int32
	onUnload func(instance uintptr)

	name        func(uintptr) string
	version     func(uintptr) string
	description func(uintptr) string
	author      func(uintptr) string
}

// resolveLifecycle binds every fixed export except the ABI gate, which the
// caller resolves first. createSymbol is SymbolCreate unless the package
// manifest overrides the entry point.
func resolveLifecycle(lib dylib, createSymbol string) (*exports, error) {
	e := &exports{}
	bindings := []struct {
		fn     any
		symbol string
	}{
		{&e.create, createSymbol},
		{&e.destroy, SymbolDestroy},
		{&e.onLoad, SymbolOnLoad},
		{&e.onUnload, SymbolOnUnload},
		{&e.name, SymbolName},
		{&e.version, SymbolVersion},
		{&e.description, SymbolDescription},
		{&e.author, SymbolAuthor},
	}
	for _, b := range bindings {
		if err := lib.Lookup(b.fn, b.symbol); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// info reads the plugin's self-reported metadata from a live instance.
func (e *exports) info(instance uintptr, apiVersion int) Info {
	return Info{
		Name:        e.name(instance),
		Version:     e.version(instance),
		Description: e.description(instance),
		Author:      e.author(instance),
		APIVersion:  apiVersion,
	}
}
