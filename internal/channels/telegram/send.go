package telegram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/linescout/internal/bus"
	"github.com/nextlevelbuilder/linescout/internal/session"
)

// Send delivers an outbound message. It is registered as the bus handler
// for the telegram channel.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return err
	}

	if msg.Progress != nil {
		return c.handleProgress(ctx, chatID, msg.Progress)
	}

	switch m := msg.Message.(type) {
	case session.Text:
		return c.sendText(ctx, chatID, m.Body)
	case session.Menu:
		return c.sendMenu(ctx, chatID, m)
	case session.Document:
		return c.sendDocument(ctx, chatID, m)
	case nil:
		return nil
	default:
		return fmt.Errorf("telegram: unsupported outbound message %T", m)
	}
}

// sendText sends HTML text, split into chunks under the message limit.
func (c *Channel) sendText(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range chunkHTML(text, telegramMaxMessageLen) {
		params := tu.Message(tu.ID(chatID), chunk).WithParseMode(telego.ModeHTML)
		if _, err := c.api.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func (c *Channel) sendMenu(ctx context.Context, chatID int64, m session.Menu) error {
	params := tu.Message(tu.ID(chatID), m.Prompt).
		WithParseMode(telego.ModeHTML).
		WithReplyMarkup(inlineKeyboard(m.Rows))
	if _, err := c.api.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send menu: %w", err)
	}
	return nil
}

func (c *Channel) sendDocument(ctx context.Context, chatID int64, d session.Document) error {
	caption := d.Caption
	if len(caption) > telegramCaptionMaxLen {
		// An over-long caption goes out as its own message.
		if err := c.sendText(ctx, chatID, caption); err != nil {
			return err
		}
		caption = ""
	}

	params := tu.Document(tu.ID(chatID), tu.File(tu.NameReader(bytes.NewReader(d.Data), d.Filename)))
	if caption != "" {
		params = params.WithCaption(caption).WithParseMode(telego.ModeHTML)
	}
	if _, err := c.api.SendDocument(ctx, params); err != nil {
		return fmt.Errorf("send document %s: %w", d.Filename, err)
	}
	slog.Debug("telegram document sent", "chat_id", chatID, "file_name", d.Filename, "bytes", len(d.Data))
	return nil
}

func inlineKeyboard(rows [][]session.Button) *telego.InlineKeyboardMarkup {
	kb := make([][]telego.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tu.InlineKeyboardButton(b.Label).WithCallbackData(b.Token))
		}
		kb = append(kb, tu.InlineKeyboardRow(buttons...))
	}
	return tu.InlineKeyboard(kb...)
}

// chunkHTML splits text on line boundaries into pieces of at most limit
// bytes. A <pre> block cut across chunks is closed and reopened so every
// chunk stays valid HTML. Lines longer than limit are split on rune
// boundaries.
func chunkHTML(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	const openPre, closePre = "<pre>", "</pre>"
	budget := limit - len(openPre) - len(closePre)

	var (
		chunks []string
		cur    strings.Builder
		inPre  bool // a <pre> is open at the end of cur
	)
	flush := func() {
		if cur.Len() == 0 || (inPre && cur.String() == openPre) {
			return
		}
		s := cur.String()
		if inPre {
			s += closePre
		}
		chunks = append(chunks, s)
		cur.Reset()
		if inPre {
			cur.WriteString(openPre)
		}
	}

	lines := strings.SplitAfter(text, "\n")
	for _, line := range lines {
		for len(line) > budget {
			cut := len(clipUTF8(line, budget))
			if cur.Len()+cut > budget {
				flush()
			}
			cur.WriteString(line[:cut])
			inPre = preOpen(inPre, line[:cut])
			flush()
			line = line[cut:]
		}
		if cur.Len()+len(line) > budget {
			flush()
		}
		cur.WriteString(line)
		inPre = preOpen(inPre, line)
	}
	if cur.Len() > 0 && !(inPre && cur.String() == openPre) {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// preOpen reports whether a <pre> block is open after s, given the state
// before it.
func preOpen(open bool, s string) bool {
	for {
		o := strings.Index(s, "<pre>")
		cl := strings.Index(s, "</pre>")
		switch {
		case o < 0 && cl < 0:
			return open
		case cl < 0 || (o >= 0 && o < cl):
			open = true
			s = s[o+len("<pre>"):]
		default:
			open = false
			s = s[cl+len("</pre>"):]
		}
	}
}

// clipUTF8 cuts s to at most n bytes without splitting a rune.
func clipUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
