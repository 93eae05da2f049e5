package nativeplugin

// dylib abstracts an opened dynamic library. All unsafe symbol handling in
// the subsystem sits behind this seam; tests inject a fake implementation
// and everything above it only ever sees typed Go functions.
type dylib interface {
	// Lookup resolves the exported symbol name and binds it to fn, which
	// must be a pointer to a function variable with the symbol's
	// signature. It fails if the export is absent.
	Lookup(fn any, name string) error

	// Close releases the library. Symbols bound from it must not be
	// called afterwards.
	Close() error
}

// dylibOpener opens a dynamic library at path. The production opener uses
// dlopen with lazy, local binding so plugin symbols are never promoted into
// the global namespace and cannot collide across plugins.
type dylibOpener func(path string) (dylib, error)
