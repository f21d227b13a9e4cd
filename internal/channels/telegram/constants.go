package telegram

import (
	"regexp"
	"time"
)

const (
	channelName = "telegram"

	// telegramMaxMessageLen is the safe limit for Telegram messages.
	// Telegram's hard limit is 4096, but we use 4000 for safety.
	telegramMaxMessageLen = 4000

	// telegramCaptionMaxLen is the max length for media captions.
	telegramCaptionMaxLen = 1024

	// defaultMaxUploadBytes is the Bot API getFile download limit.
	defaultMaxUploadBytes = 20 << 20

	// defaultProgressThrottle is the minimum delay between progress edits.
	defaultProgressThrottle = 1000 * time.Millisecond

	downloadTimeout = 5 * time.Minute
)

var messageNotModifiedRe = regexp.MustCompile(`(?i)message is not modified`)
