// Package observability holds the logging helpers, metrics and tracing used
// across deusvult. Trace decorates calls with spans; Setup installs a tracer
// provider whose exporter turns finished spans into TraceRecord values for
// an Inserter such as sink.BatchWriter.
package observability

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds a slog logger writing to w.
// format is "json" or "text"; unknown levels fall back to info.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// LogPublish logs the dispatch of an event.
func LogPublish(logger *slog.Logger, topic, eventID string, handlers int) {
	if logger == nil {
		return
	}
	logger.Debug("publishing event",
		slog.String("topic", topic),
		slog.String("event_id", eventID),
		slog.Int("handlers", handlers),
	)
}

// LogHandlerComplete logs a successful handler invocation.
func LogHandlerComplete(logger *slog.Logger, topic, handler string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("handler completed",
		slog.String("topic", topic),
		slog.String("handler", handler),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogHandlerError logs a handler failure. The failure never aborts siblings.
func LogHandlerError(logger *slog.Logger, topic, handler string, err error) {
	if logger == nil {
		return
	}
	logger.Error("handler failed",
		slog.String("topic", topic),
		slog.String("handler", handler),
		slog.String("error", err.Error()),
	)
}

// LogPayloadError logs an event rejected before dispatch.
func LogPayloadError(logger *slog.Logger, topic, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("event payload rejected",
		slog.String("topic", topic),
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogExportError logs a span that could not be handed to the sink (non-fatal).
func LogExportError(logger *slog.Logger, spanName, traceID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("trace export failed",
		slog.String("span", spanName),
		slog.String("trace_id", traceID),
		slog.String("error", err.Error()),
	)
}

// LogUnitOfWork logs a unit of work state transition.
func LogUnitOfWork(logger *slog.Logger, id, from, to string) {
	if logger == nil {
		return
	}
	logger.Debug("unit of work transition",
		slog.String("uow_id", id),
		slog.String("from", from),
		slog.String("to", to),
	)
}
