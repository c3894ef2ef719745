// Package log provides the component-tagged logging convention used across
// the transport core.
//
// Every component receives its logger explicitly through its constructor
// (see transport.Config.Logger); this package only adds the "component"
// attribute consistently, it never reads or mutates a process-global
// logger.
package log

import (
	"io"
	"log/slog"
)

// Logger returns a logger tagged with component, derived from base.
//
// If base is nil, the returned logger discards everything; a component
// that wants output must be given an explicit base.
func Logger(base *slog.Logger, component string) *slog.Logger {
	if base == nil {
		base = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return base.With("component", component)
}

// New creates a text-handler logger writing to w at the given level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSON creates a JSON-handler logger writing to w at the given level.
func NewJSON(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// TruncateID safely truncates id for log display, avoiding a slice panic
// when id is shorter than maxLen.
func TruncateID(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen]
}
