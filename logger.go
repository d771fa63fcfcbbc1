package halcore

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/halcore/device"
)

// nopHandler discards every record. Enabled is false, so disabled
// logging never formats its arguments.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger installs l for halcore and every registered device backend.
// halcore is silent until SetLogger is called; nil restores silence.
// SetLogger may be called concurrently with logging.
//
// Log levels used by halcore:
//   - [slog.LevelDebug]: resource lifecycle (buffers, fences, recordings)
//   - [slog.LevelInfo]: context initialization and teardown, adapter selection
//   - [slog.LevelWarn]: teardown failures, device usage violations
//
// Example:
//
//	halcore.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	device.SetLogger(l)
}

// Logger returns the logger in use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
