// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

package storage

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// # Backend Logging

// LogLevels captures which severities a backend may emit. Log levels are per
// process, not per tenant: reconciliation refreshes every live backend with
// the current settings on each pass.
type LogLevels struct {
	// MinLevel is the lowest severity the backend emits.
	MinLevel slog.Level
	// Silent suppresses all backend logging, regardless of MinLevel. Used for
	// the quiet candidate-construction phase of reconciliation and for
	// orphaned backends after StopLogging.
	Silent bool
}

// DefaultLogLevels returns the standard settings (info and above).
func DefaultLogLevels() LogLevels {
	return LogLevels{MinLevel: slog.LevelInfo}
}

// SilentLogLevels returns settings that suppress all backend logging.
func SilentLogLevels() LogLevels {
	return LogLevels{Silent: true}
}

// LevelHandler gates an slog handler behind mutable [LogLevels]. Backends
// wrap their logger with it so that SetLogLevels and StopLogging take effect
// immediately, without swapping the logger out from under concurrent users.
// Derived handlers (WithAttrs/WithGroup) share the same settings.
type LevelHandler struct {
	inner  slog.Handler
	levels *atomic.Pointer[LogLevels]
}

// NewLevelHandler wraps inner with the given initial settings.
func NewLevelHandler(inner slog.Handler, levels LogLevels) *LevelHandler {
	shared := &atomic.Pointer[LogLevels]{}
	shared.Store(&levels)
	return &LevelHandler{inner: inner, levels: shared}
}

// SetLevels replaces the handler's settings, for this handler and every
// handler derived from it.
func (h *LevelHandler) SetLevels(levels LogLevels) { h.levels.Store(&levels) }

// Enabled implements slog.Handler.
func (h *LevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	levels := h.levels.Load()
	if levels.Silent {
		return false
	}
	return level >= levels.MinLevel && h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *LevelHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.inner.Handle(ctx, record)
}

// WithAttrs implements slog.Handler.
func (h *LevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelHandler{inner: h.inner.WithAttrs(attrs), levels: h.levels}
}

// WithGroup implements slog.Handler.
func (h *LevelHandler) WithGroup(name string) slog.Handler {
	return &LevelHandler{inner: h.inner.WithGroup(name), levels: h.levels}
}
