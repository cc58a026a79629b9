package env

import (
	"log/slog"
	"strings"
)

// ParseLogLevel reads LOG_LEVEL and returns the matching slog.Level.
// Supported values: "debug", "info", "warn", "warning", "error".
// Falls back to the provided default if the variable is empty or unrecognised.
func ParseLogLevel(fallback slog.Level) slog.Level {
	return LogLevel(Get("LOG_LEVEL", ""), fallback)
}

// LogLevel maps a level name to a slog.Level.
func LogLevel(raw string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
