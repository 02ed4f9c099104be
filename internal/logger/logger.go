// Package logger builds the process-wide slog.Logger from LOG_LEVEL and APP_ENV.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New пишет JSON в production и текст в остальных окружениях (stderr).
func New(level, env string) *slog.Logger {
	return NewWriter(os.Stderr, level, env)
}

func NewWriter(w io.Writer, level, env string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if env == "production" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("service", "certificate-request-service")
}

// Discard is for tests and for callers that were given no logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
