// Package logging provides the application's structured logger.
package logging

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger so packages depend on one logging type.
type Logger struct {
	*slog.Logger
}

// New creates a JSON logger at the given level. Unknown levels fall back
// to info.
func New(level string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return &Logger{Logger: slog.New(handler)}
}

// NewText creates a human-readable logger for local development.
func NewText(level string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	handler := slog.NewTextHandler(os.Stderr, opts)
	return &Logger{Logger: slog.New(handler)}
}

// Default returns an info-level JSON logger.
func Default() *Logger {
	return New("info")
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
