package runtime

import (
	"sync"

	"github.com/recera/wirepage/pkg/reactive"
	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
)

func init() {
	// page code assigns members and reassigns page-level names
	resolve.AllowSet = true
	resolve.AllowGlobalReassign = true
	resolve.AllowRecursion = true
}

// debugLog is set by the host when debug output is wanted
var debugLog func(args ...interface{})

// SetDebugLog sets the debug logging function for pages and the reactive
// graph
func SetDebugLog(fn func(args ...interface{})) {
	debugLog = fn
	reactive.SetDebugLog(fn)
}

var (
	globalsMu   sync.RWMutex
	hostGlobals = starlark.StringDict{}
)

// RegisterGlobal makes v visible to every page compiled afterwards
func RegisterGlobal(name string, v starlark.Value) {
	globalsMu.Lock()
	defer globalsMu.Unlock()
	v.Freeze()
	hostGlobals[name] = v
}

// Predeclared returns the names every page's code can use besides the
// starlark universe
func Predeclared() starlark.StringDict {
	d := reactive.Builtins()
	d["wait"] = starlark.NewBuiltin("wait", waitBuiltin)
	d["sleep"] = starlark.NewBuiltin("sleep", sleep)
	d["push_state"] = starlark.NewBuiltin("push_state", pushState)
	d["json"] = starlarkjson.Module
	d["math"] = starlarkmath.Module
	d["time"] = starlarktime.Module

	asyncMu.RLock()
	for name, fn := range asyncFuncs {
		d[name] = asyncBuiltin(name, fn)
	}
	asyncMu.RUnlock()

	globalsMu.RLock()
	for name, v := range hostGlobals {
		d[name] = v
	}
	globalsMu.RUnlock()
	return d
}

// push_state() delivers the current state to the client without waiting
// for the running handler to finish
func pushState(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if s, ok := sessionOf(thread); ok {
		s.requestPush()
	}
	return starlark.None, nil
}
