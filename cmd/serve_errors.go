package cmd

import (
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/linescout/internal/config"
)

// formatStartupError turns a Telegram startup failure into a hint for the
// operator.
func formatStartupError(err error) string {
	lower := strings.ToLower(err.Error())

	switch {
	case containsAny(lower, "401", "unauthorized", "invalid token", "not found: 404"):
		return "Telegram rejected the bot token. Check " + config.EnvBotToken
	case containsAny(lower, "409", "conflict", "terminated by other getupdates"):
		return "Another instance is already polling this bot. Stop it first"
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		return "Timed out reaching api.telegram.org"
	case containsAny(lower, "no such host", "connection refused", "network is unreachable"):
		return "Cannot reach api.telegram.org. Check network and proxy settings"
	}

	slog.Warn("unclassified startup error", "error", err)
	return "Telegram channel failed to start"
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
