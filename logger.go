package annbridge

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with adapter-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithIndex adds the index name to the logger.
func (l *Logger) WithIndex(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("index", name),
	}
}

// LogAppend logs an append operation.
func (l *Logger) LogAppend(ctx context.Context, count, recorded int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "append failed",
			"count", count,
			"recorded", recorded,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "append completed",
			"count", count,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, requested, deleted int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"requested", requested,
			"deleted", deleted,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"requested", requested,
			"deleted", deleted,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogMerge logs a merge operation.
func (l *Logger) LogMerge(ctx context.Context, source string, moved int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "merge failed",
			"source", source,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "merge completed",
			"source", source,
			"moved", moved,
		)
	}
}

// LogVacuum logs a vacuum operation.
func (l *Logger) LogVacuum(ctx context.Context, compacted bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "vacuum failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "vacuum completed",
			"compacted", compacted,
		)
	}
}

// LogPersist logs a metadata flush.
func (l *Logger) LogPersist(ctx context.Context, mappings int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "persist failed",
			"mappings", mappings,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "persist completed",
			"mappings", mappings,
		)
	}
}
