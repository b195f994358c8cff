package util

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Logger = *slog.Logger

// NewLogger returns a text logger on stderr at the given level name.
// Unknown or empty names fall back to info.
func NewLogger(level string) *slog.Logger {
	return NewLoggerTo(os.Stderr, level)
}

func NewLoggerTo(w io.Writer, level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	if parsed, err := ParseLevel(level); err == nil {
		lvl.Set(parsed)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lvl,
	}))
}

// ParseLevel maps debug/info/warn/error to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// DiscardLogger drops everything; handy for tests and library callers
// that did not supply a logger.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
