package transaction

import (
	"context"
	"errors"
	"log/slog"

	"github.com/robbyt/go-loglater"
)

// teeHandler records every level into the transaction's collector and forwards to the
// process handler only what that handler has enabled.
type teeHandler struct {
	capture slog.Handler
	process slog.Handler
}

func newTeeHandler(collector *loglater.LogCollector, process slog.Handler) slog.Handler {
	if process == nil {
		return collector
	}
	return &teeHandler{capture: collector, process: process}
}

func (h *teeHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	captureErr := h.capture.Handle(ctx, r.Clone())
	var processErr error
	if h.process.Enabled(ctx, r.Level) {
		processErr = h.process.Handle(ctx, r)
	}
	return errors.Join(captureErr, processErr)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{capture: h.capture.WithAttrs(attrs), process: h.process.WithAttrs(attrs)}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &teeHandler{capture: h.capture.WithGroup(name), process: h.process.WithGroup(name)}
}
