package bus

import (
	"context"

	"github.com/nextlevelbuilder/linescout/internal/session"
)

// InboundEvent is a user action received by a channel.
type InboundEvent struct {
	Channel   string
	ChatID    string
	SenderID  string
	MessageID string // transport update id, used for de-duplication
	Event     session.Event
}

// SessionKey identifies the session the event belongs to.
func (e InboundEvent) SessionKey() string {
	return e.Channel + ":" + e.ChatID
}

// OutboundMessage is delivered to a chat by its channel. Exactly one of
// Message and Progress is set.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	RunID    string
	Message  session.Outgoing
	Progress *ProgressUpdate
}

// ProgressUpdate edits a live status message in place.
type ProgressUpdate struct {
	ID    string // unique per status message
	Text  string
	Final bool
}

// MessageHandler delivers outbound messages for one channel.
type MessageHandler func(ctx context.Context, msg OutboundMessage) error
