//go:build darwin || freebsd || linux

package nativeplugin

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// puregoDylib wraps a dlopen handle.
type puregoDylib struct {
	handle uintptr
	path   string
}

// openDylib is the production dylibOpener. RTLD_LAZY defers symbol binding
// until first call; RTLD_LOCAL keeps the library's symbols out of the
// global namespace so two plugins exporting the same name cannot collide.
func openDylib(path string) (dylib, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_LAZY|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("failed to open library %s: %w", path, err)
	}
	return &puregoDylib{handle: handle, path: path}, nil
}

func (d *puregoDylib) Lookup(fn any, name string) error {
	if _, err := purego.Dlsym(d.handle, name); err != nil {
		return fmt.Errorf("library %s does not export %s: %w", d.path, name, err)
	}
	purego.RegisterLibFunc(fn, d.handle, name)
	return nil
}

func (d *puregoDylib) Close() error {
	if err := purego.Dlclose(d.handle); err != nil {
		return fmt.Errorf("failed to close library %s: %w", d.path, err)
	}
	return nil
}
