package device

import (
	"context"
	"log/slog"
)

// nopHandler is a slog.Handler that discards all records. Enabled returns
// false so callers skip formatting.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// NopLogger returns a logger that discards all output. Backends start with
// it until the owner installs its logger through SetLogger.
func NopLogger() *slog.Logger { return slog.New(nopHandler{}) }
