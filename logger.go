package pulse

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// pkgLogger carries the library's own diagnostics logging (configuration
// warnings, scheduler task errors). Defaults to a no-op logger.
var pkgLogger atomic.Pointer[zap.Logger]

func init() {
	pkgLogger.Store(zap.NewNop())
}

// SetLogger installs the logger used for the library's own diagnostics.
// Passing nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	pkgLogger.Store(l)
}

func logger() *zap.Logger { return pkgLogger.Load() }
