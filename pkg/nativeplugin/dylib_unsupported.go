//go:build !darwin && !freebsd && !linux

package nativeplugin

import (
	"fmt"
	"runtime"
)

func openDylib(path string) (dylib, error) {
	return nil, fmt.Errorf("native plugin loading is not supported on %s", runtime.GOOS)
}
