// Package telemetry builds the structured logger AMPERE writes every
// operational event through: JSON-lines to a per-process log file,
// mirrored to stdout unless running quiet, with secret redaction applied
// to every attribute before it reaches either destination.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/amperehq/ampere/internal/shared"
)

// component is attached to every logger NewLogger builds; per-subsystem
// loggers are derived from it with WithComponent rather than constructed
// from scratch, so every log line shares the same redaction hook.
const defaultComponent = "runtime"

// NewLogger opens (or creates) <homeDir>/logs/system.jsonl and returns a
// slog.Logger writing JSON lines to it, plus the io.Closer to close on
// shutdown. Unless quiet, every line is also written to stdout through a
// second handler on the same record, rather than a single handler over
// an io.MultiWriter, so a future caller could give the stdout mirror its
// own level or format without touching the file handler.
func NewLogger(homeDir, level string, quiet bool) (*slog.Logger, io.Closer, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}

	file, err := os.OpenFile(filepath.Join(logDir, "system.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level), ReplaceAttr: redactAttr}
	handlers := []slog.Handler{slog.NewJSONHandler(file, opts)}
	if !quiet {
		handlers = append(handlers, slog.NewJSONHandler(os.Stdout, opts))
	}

	logger := slog.New(fanoutHandler(handlers)).With("component", defaultComponent, "trace_id", "-")
	return logger, file, nil
}

// WithComponent derives a child logger tagging every record with the
// given component name, for a subsystem (agent, orchestrator, bus) that
// wants its log lines distinguishable from the rest of the process.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// multiHandler fans a record out to every handler in the slice. slog has
// no built-in handler for writing the same record through more than one
// destination handler, so each Handle call loops over handlers itself.
type multiHandler struct {
	handlers []slog.Handler
}

func fanoutHandler(handlers []slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

// redactAttr is the slog.HandlerOptions.ReplaceAttr hook: it renames the
// built-in time key to "timestamp" and scrubs any attribute whose key or
// string value looks like it carries a secret.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Key = "timestamp"
	}
	if shared.IsSensitiveKey(a.Key) {
		return slog.String(a.Key, "[REDACTED]")
	}
	if a.Value.Kind() == slog.KindString {
		v := a.Value.String()
		if shared.LooksLikeCredentialValue(v) {
			return slog.String(a.Key, "[REDACTED]")
		}
		if redacted := shared.Redact(v); redacted != v {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
