package telegram

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/linescout/internal/bus"
)

// progressMessage is a status message that gets edited in place while a
// search runs.
//
//	NOT_STARTED → first Update() → sendMessage (create) → LIVE
//	LIVE        → subsequent Update() → editMessageText (throttled) → LIVE
//	LIVE        → Stop() → final editMessageText → STOPPED
type progressMessage struct {
	api       botAPI
	chatID    int64
	messageID int    // 0 = not yet created
	lastText  string // last sent text (for dedup)
	pending   string // latest text, sent once the throttle allows
	throttle  time.Duration
	lastEdit  time.Time
	stopped   bool
	mu        sync.Mutex
}

func newProgressMessage(api botAPI, chatID int64, throttle time.Duration) *progressMessage {
	if throttle <= 0 {
		throttle = defaultProgressThrottle
	}
	return &progressMessage{api: api, chatID: chatID, throttle: throttle}
}

// Update records text and sends it unless the last edit was too recent.
func (pm *progressMessage) Update(ctx context.Context, text string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.stopped {
		return
	}
	text = clipUTF8(text, telegramMaxMessageLen)
	if text == pm.lastText {
		return
	}

	pm.pending = text
	// The first message goes out immediately so the user sees the search started.
	if pm.messageID != 0 && time.Since(pm.lastEdit) < pm.throttle {
		return
	}
	pm.flush(ctx)
}

// Stop sends the final text regardless of the throttle.
func (pm *progressMessage) Stop(ctx context.Context, text string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.stopped {
		return nil
	}
	pm.stopped = true
	pm.pending = text
	return pm.flush(ctx)
}

// flush sends/edits the pending text (must hold mu lock).
func (pm *progressMessage) flush(ctx context.Context) error {
	if pm.pending == "" || pm.pending == pm.lastText {
		return nil
	}
	text := pm.pending

	if pm.messageID == 0 {
		msg, err := pm.api.SendMessage(ctx, tu.Message(tu.ID(pm.chatID), text).WithParseMode(telego.ModeHTML))
		if err != nil {
			slog.Debug("progress: failed to send initial message", "chat_id", pm.chatID, "error", err)
			return err
		}
		pm.messageID = msg.MessageID
	} else {
		edit := tu.EditMessageText(tu.ID(pm.chatID), pm.messageID, text).WithParseMode(telego.ModeHTML)
		if _, err := pm.api.EditMessageText(ctx, edit); err != nil {
			if !messageNotModifiedRe.MatchString(err.Error()) {
				slog.Debug("progress: failed to edit message", "chat_id", pm.chatID, "error", err)
				return err
			}
		}
	}

	pm.lastText = text
	pm.lastEdit = time.Now()
	return nil
}

func progressKey(chatID int64, id string) string {
	return formatChatID(chatID) + ":" + id
}

// handleProgress routes a progress update to its status message.
func (c *Channel) handleProgress(ctx context.Context, chatID int64, p *bus.ProgressUpdate) error {
	key := progressKey(chatID, p.ID)

	val, _ := c.progress.LoadOrStore(key, newProgressMessage(c.api, chatID, time.Duration(c.throttle.Load())))
	pm := val.(*progressMessage)

	if !p.Final {
		pm.Update(ctx, p.Text)
		return nil
	}

	c.progress.Delete(key)
	return pm.Stop(ctx, p.Text)
}
