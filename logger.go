package diskindex

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with index-specific context.
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
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithIndex adds the index name field to the logger.
func (l *Logger) WithIndex(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("index", name),
	}
}

// LogSave logs a save operation.
func (l *Logger) LogSave(ctx context.Context, oldRef, newRef RecordRef, err error) {
	if err != nil {
		l.ErrorContext(ctx, "save failed",
			"ref", uint64(newRef),
			"old_ref", uint64(oldRef),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "save completed",
			"ref", uint64(newRef),
			"old_ref", uint64(oldRef),
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, ref RecordRef, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"ref", uint64(ref),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"ref", uint64(ref),
		)
	}
}

// LogQuery logs a lookup, range or similarity query.
func (l *Logger) LogQuery(ctx context.Context, op string, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"op", op,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"op", op,
			"results", results,
		)
	}
}

// LogClear logs a clear.
func (l *Logger) LogClear(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "clear failed", "error", err)
		return
	}
	l.InfoContext(ctx, "index cleared")
}

// LogRebuild logs a rebuild.
func (l *Logger) LogRebuild(ctx context.Context, records int64, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rebuild failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "rebuild completed",
			"records", records,
			"duration", duration,
		)
	}
}
