package clmtl

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler is a slog.Handler that discards all log records. Enabled
// returns false so callers skip message formatting.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// live tracks contexts whose devices receive logger updates.
var (
	liveMu sync.Mutex
	live   = make(map[*Context]struct{})
)

// SetLogger configures the logger for clmtl and the devices of every live
// context. By default clmtl produces no log output. Pass nil to restore
// the silent default.
//
// Log levels used by clmtl:
//   - [slog.LevelDebug]: cache hits and misses, heap sizes, command buffer
//     lifecycle
//   - [slog.LevelInfo]: context and device creation
//   - [slog.LevelWarn]: non-fatal issues (backend limitations, release of
//     objects still in flight)
//
// Example:
//
//	clmtl.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	liveMu.Lock()
	defer liveMu.Unlock()
	for c := range live {
		if !c.ownLogger {
			propagateLogger(c.dev, l)
		}
	}
}

// Logger returns the current logger used by clmtl.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by devices that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

func propagateLogger(dev any, l *slog.Logger) {
	if ls, ok := dev.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}

func trackContext(c *Context) {
	liveMu.Lock()
	live[c] = struct{}{}
	liveMu.Unlock()
}

func untrackContext(c *Context) {
	liveMu.Lock()
	delete(live, c)
	liveMu.Unlock()
}
