package nativeplugin

import (
	"math"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/emberforge/ember/pkg/ecs"
)

// hostVTable is the C-layout table of engine entry points handed to a
// plugin's load callback. Every field is a C-callable function pointer
// produced by purego.NewCallback and bound to one bridge, so the plugin
// never needs a context argument beyond its own instance.
//
// C declaration of the table, in field order:
//
//	struct emberHostAPI {
//	    int32_t (*registerComponent)(const char* name, void (*factory)(uint64_t entity));
//	    int32_t (*registerSystem)(const char* name, void* (*create)(void), void (*update)(void* system, uint64_t dtBits));
//	    void    (*logInfo)(const char* message);
//	    void    (*logWarning)(const char* message);
//	    void    (*logError)(const char* message);
//	    int32_t (*engineAPIVersion)(void);
//	};
//
// update's dtBits carries the IEEE-754 bits of the float64 delta time;
// integer-register passing keeps the callback ABI uniform across platforms.
type hostVTable struct {
	registerComponent uintptr
	registerSystem    uintptr
	logInfo           uintptr
	logWarning        uintptr
	logError          uintptr
	engineAPIVersion  uintptr
}

// nativeSystem adapts a plugin-provided system to the runtime's System
// interface. instance and update are raw plugin pointers; they stay valid
// because the owning library is only closed after the plugin's factories
// are revoked from the registry.
type nativeSystem struct {
	name     string
	instance uintptr
	update   uintptr
}

func (s *nativeSystem) Name() string { return s.name }

func (s *nativeSystem) Update(dt float64) {
	purego.SyscallN(s.update, s.instance, uintptr(math.Float64bits(dt)))
}

// newHostVTable builds the callback table for one plugin load. The
// trampolines purego creates are process-lifetime resources that outlive
// the plugin; a handful per load is the accepted cost of keeping the table
// context-free.
func newHostVTable(bridge *ecs.Bridge) *hostVTable {
	return &hostVTable{
		registerComponent: purego.NewCallback(func(name, factory uintptr) uintptr {
			componentName := goString(name)
			err := bridge.RegisterComponent(componentName, func(entity ecs.Entity) {
				purego.SyscallN(factory, uintptr(entity))
			})
			if err != nil {
				bridge.LogError(err.Error())
				return 1
			}
			return 0
		}),
		registerSystem: purego.NewCallback(func(name, create, update uintptr) uintptr {
			systemName := goString(name)
			err := bridge.RegisterSystem(systemName, func() ecs.System {
				instance, _, _ := purego.SyscallN(create)
				return &nativeSystem{name: systemName, instance: instance, update: update}
			})
			if err != nil {
				bridge.LogError(err.Error())
				return 1
			}
			return 0
		}),
		logInfo: purego.NewCallback(func(message uintptr) uintptr {
			bridge.Log(goString(message))
			return 0
		}),
		logWarning: purego.NewCallback(func(message uintptr) uintptr {
			bridge.LogWarning(goString(message))
			return 0
		}),
		logError: purego.NewCallback(func(message uintptr) uintptr {
			bridge.LogError(goString(message))
			return 0
		}),
		engineAPIVersion: purego.NewCallback(func() uintptr {
			return uintptr(bridge.EngineAPIVersion())
		}),
	}
}

// pointer returns the address passed to the plugin's load callback. The
// caller must keep the vtable reachable for the plugin's loaded lifetime.
func (v *hostVTable) pointer() uintptr {
	return uintptr(unsafe.Pointer(v))
}

// goString copies a NUL-terminated C string. A zero pointer yields "".
func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	var b []byte
	for {
		c := *(*byte)(unsafe.Pointer(p))
		if c == 0 {
			break
		}
		b = append(b, c)
		p++
	}
	return string(b)
}
