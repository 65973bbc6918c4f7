// Package debug routes the debug hooks of the library packages to one sink.
package debug

import (
	"github.com/recera/wirepage/pkg/live"
	"github.com/recera/wirepage/pkg/loader"
	"github.com/recera/wirepage/pkg/reactive"
	"github.com/recera/wirepage/pkg/runtime"
	"github.com/recera/wirepage/pkg/scheduler"
)

// EnableLogging enables debug logging for every package with a debug hook
func EnableLogging(logFn func(args ...interface{})) {
	reactive.SetDebugLog(logFn)
	runtime.SetDebugLog(logFn)
	scheduler.SetDebugLog(logFn)
	live.SetDebugLog(logFn)
	loader.SetDebugLog(logFn)
}

// DisableLogging silences every debug hook
func DisableLogging() {
	EnableLogging(nil)
}
