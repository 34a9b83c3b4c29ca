package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	runtimeerrors "github.com/ollm-core/agentcore/internal/errors"
)

// LogConfig configures NewLogger.
type LogConfig struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string

	// Format is "json" or "text".
	Format string

	// Output defaults to os.Stderr.
	Output io.Writer

	// AddSource includes file:line in records.
	AddSource bool
}

// NewLogger builds a slog.Logger whose handler redacts credential-shaped
// values and attaches any correlation IDs present on the record's
// context. The returned logger is handed to components at construction;
// there is no package-level logger here.
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString {
				a.Value = slog.StringValue(runtimeerrors.Redact(a.Value.String()))
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(&correlatingHandler{inner: handler})
}

// correlatingHandler appends the correlation IDs stored on the record's
// context (run, session, tool call) so every log line can be joined back
// to its agent run without callers threading the IDs by hand.
type correlatingHandler struct {
	inner slog.Handler
}

func (h *correlatingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *correlatingHandler) Handle(ctx context.Context, record slog.Record) error {
	if id := GetRunID(ctx); id != "" {
		record.AddAttrs(slog.String("run_id", id))
	}
	if id := GetSessionID(ctx); id != "" {
		record.AddAttrs(slog.String("session_id", id))
	}
	if id := GetToolCallID(ctx); id != "" {
		record.AddAttrs(slog.String("tool_call_id", id))
	}
	return h.inner.Handle(ctx, record)
}

func (h *correlatingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &correlatingHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *correlatingHandler) WithGroup(name string) slog.Handler {
	return &correlatingHandler{inner: h.inner.WithGroup(name)}
}
