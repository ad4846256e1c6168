// Package log provides the structured logging interface used across the
// pipeline. The interface mirrors log/slog so call sites stay backend-agnostic;
// the production backend is zerolog.
//
//	logger := log.GetLoggerWithName("pipeline").With(
//	    log.StageKey, "balance",
//	)
//	logger.Info("SMOTE finished",
//	    log.SamplesKey, 342118,
//	    log.FeaturesKey, 21,
//	)
package log

import (
	"context"
)

// Logger is a slog-compatible structured logger.
type Logger interface {
	// Debug logs diagnostic detail.
	Debug(msg string, fields ...any)

	// Info logs normal progress.
	Info(msg string, fields ...any)

	// Warn logs recoverable problems.
	Warn(msg string, fields ...any)

	// Error logs failures. When the first field is an error it is attached
	// under ErrAttrKey together with its stack trace.
	//
	//	logger.Error("Loading failed", err, log.OperationKey, "load")
	Error(msg string, fields ...any)

	// With returns a child logger carrying fields on every record.
	With(fields ...any) Logger

	// Enabled reports whether records at level are emitted.
	Enabled(ctx context.Context, level Level) bool
}

// Level is a logging level with slog-compatible values.
type Level int

const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the upper-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LoggerProvider creates loggers. Tests swap in a TestLoggerProvider.
type LoggerProvider interface {
	// GetLogger returns the default logger.
	GetLogger() Logger

	// GetLoggerWithName returns a logger tagged with a component name.
	GetLoggerWithName(name string) Logger

	// SetLevel sets the minimum level for all loggers of this provider.
	SetLevel(level Level)
}
