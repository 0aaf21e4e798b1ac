// Package observability provides structured logging and Prometheus metrics
// for memlake.
//
// It wraps log/slog with trace ID propagation and secret redaction so that
// every log line emitted during a request or flush carries the trace context.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bdobrica/memlake/common/redact"
	"github.com/bdobrica/memlake/common/trace"
)

// Setup configures the global slog logger according to the provided level and
// format strings (e.g. level="info", format="json") and returns it.
func Setup(level, format string) *slog.Logger {
	return setup(os.Stdout, level, format)
}

func setup(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to a slog.Level. Unknown names are info.
func ParseLevel(level string) slog.Level {
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

// WithTrace returns a child of logger that always includes the trace_id
// from ctx. A nil logger means slog.Default().
func WithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		return logger
	}
	return logger.With("trace_id", traceID)
}

// RedactSecrets replaces known-sensitive values in a log message with "[REDACTED]".
func RedactSecrets(msg string, sensitiveValues ...string) string {
	return redact.String(msg, sensitiveValues...)
}
