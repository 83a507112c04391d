package vision

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// zlog is the package default structured logger. If unset, logging is off.
var zlog atomic.Pointer[zerolog.Logger]

// SetLogger installs the logger used by instances that have no Options.Logger.
func SetLogger(l zerolog.Logger) { zlog.Store(&l) }

func defaultLogger() zerolog.Logger {
	if l := zlog.Load(); l != nil {
		return *l
	}
	return zerolog.Nop()
}
