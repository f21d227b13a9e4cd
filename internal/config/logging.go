package config

import (
	"io"
	"log/slog"
	"strings"
)

// LogLevel holds the process log level so a reload can change it.
var LogLevel = new(slog.LevelVar)

// SetupLogging installs the default slog logger for cfg.
func SetupLogging(w io.Writer, cfg LogConfig) {
	ApplyLogLevel(cfg.Level)

	opts := &slog.HandlerOptions{Level: LogLevel}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// ApplyLogLevel sets LogLevel; unknown names leave it unchanged.
func ApplyLogLevel(name string) {
	if lvl, ok := parseLevel(name); ok {
		LogLevel.Set(lvl)
	}
}

func parseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}
