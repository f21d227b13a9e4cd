// Package telegram is the Telegram transport: it turns bot updates into
// session events and delivers outbound messages as chat messages, inline
// keyboards, documents and live progress edits.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/linescout/internal/bus"
	"github.com/nextlevelbuilder/linescout/internal/session"
)

// Config configures the Telegram channel.
type Config struct {
	Token            string
	UploadDir        string
	MaxUploadBytes   int64
	ProgressThrottle time.Duration
	AllowFrom        []string // user IDs or usernames; empty allows everyone
}

// botAPI is the subset of *telego.Bot the channel uses.
type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error)
	SendDocument(ctx context.Context, params *telego.SendDocumentParams) (*telego.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error
	GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error)
	FileDownloadURL(filepath string) string
	SetMyCommands(ctx context.Context, params *telego.SetMyCommandsParams) error
	DeleteMyCommands(ctx context.Context, params *telego.DeleteMyCommandsParams) error
}

// Channel connects a Telegram bot to the message bus.
type Channel struct {
	bot      *telego.Bot
	api      botAPI
	bus      *bus.MessageBus
	cfg      Config
	http     *http.Client
	progress sync.Map // "chatID:progressID" → *progressMessage
	throttle atomic.Int64
	allow    map[string]bool
	username string
}

// New creates a Telegram channel for the given bot token.
func New(cfg Config, mb *bus.MessageBus) (*Channel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	bot, err := telego.NewBot(cfg.Token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	c := newChannel(bot, cfg, mb)
	c.bot = bot
	return c, nil
}

func newChannel(api botAPI, cfg Config, mb *bus.MessageBus) *Channel {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.ProgressThrottle <= 0 {
		cfg.ProgressThrottle = defaultProgressThrottle
	}
	allow := make(map[string]bool, len(cfg.AllowFrom))
	for _, a := range cfg.AllowFrom {
		allow[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(a), "@"))] = true
	}
	c := &Channel{
		api:   api,
		bus:   mb,
		cfg:   cfg,
		http:  &http.Client{Timeout: downloadTimeout},
		allow: allow,
	}
	c.throttle.Store(int64(cfg.ProgressThrottle))
	return c
}

// Name returns the channel name used on the bus.
func (c *Channel) Name() string { return channelName }

// SetProgressThrottle changes the minimum delay between progress edits for
// status messages created from now on.
func (c *Channel) SetProgressThrottle(d time.Duration) {
	if d > 0 {
		c.throttle.Store(int64(d))
	}
}

// Start registers the outbound handler, syncs the command menu and starts
// long polling. Polling stops when ctx is cancelled.
func (c *Channel) Start(ctx context.Context) error {
	if c.bot == nil {
		return fmt.Errorf("telegram: bot not initialized")
	}

	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	c.username = me.Username

	if err := c.SyncMenuCommands(ctx, DefaultMenuCommands()); err != nil {
		slog.Warn("failed to sync telegram menu commands", "error", err)
	}

	updates, err := c.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	c.bus.RegisterHandler(channelName, c.Send)

	go func() {
		for u := range updates {
			c.handleUpdate(ctx, u)
		}
		slog.Info("telegram polling stopped", "bot", c.username)
	}()

	slog.Info("telegram channel started", "bot", c.username)
	return nil
}

func (c *Channel) handleUpdate(ctx context.Context, u telego.Update) {
	switch {
	case u.CallbackQuery != nil:
		c.handleCallback(ctx, u.UpdateID, u.CallbackQuery)
	case u.Message != nil:
		c.handleMessage(ctx, u.UpdateID, u.Message)
	}
}

func (c *Channel) handleCallback(ctx context.Context, updateID int, q *telego.CallbackQuery) {
	if err := c.api.AnswerCallbackQuery(ctx, tu.CallbackQuery(q.ID)); err != nil {
		slog.Debug("answerCallbackQuery failed", "error", err)
	}

	chatID := q.From.ID
	if q.Message != nil {
		chatID = q.Message.GetChat().ID
	}
	if !c.isAllowed(&q.From) {
		slog.Debug("telegram callback from unlisted user ignored", "user_id", q.From.ID)
		return
	}

	c.publish(ctx, updateID, chatID, &q.From, session.MenuSelection{Token: q.Data})
}

func (c *Channel) handleMessage(ctx context.Context, updateID int, msg *telego.Message) {
	chatID := msg.Chat.ID
	if !c.isAllowed(msg.From) {
		slog.Debug("telegram message from unlisted user ignored", "chat_id", chatID)
		return
	}

	if msg.Document != nil {
		// Downloads can take a while; keep polling meanwhile.
		go c.handleDocument(ctx, updateID, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if ev, ok := parseCommand(text, c.username); ok {
		c.publish(ctx, updateID, chatID, msg.From, ev)
		return
	}
	c.publish(ctx, updateID, chatID, msg.From, session.FreeText{Text: msg.Text})
}

func (c *Channel) handleDocument(ctx context.Context, updateID int, msg *telego.Message) {
	chatID := msg.Chat.ID
	doc := msg.Document

	if doc.FileSize > c.cfg.MaxUploadBytes {
		c.sendText(ctx, chatID, fmt.Sprintf("⚠️ File is too large (limit %d MB).", c.cfg.MaxUploadBytes>>20))
		return
	}

	up, err := c.downloadDocument(ctx, chatID, doc)
	if err != nil {
		slog.Warn("telegram document download failed", "chat_id", chatID, "file_name", doc.FileName, "error", err)
		c.sendText(ctx, chatID, "⚠️ Could not download the file. Please try again.")
		return
	}
	c.publish(ctx, updateID, chatID, msg.From, up)
}

func (c *Channel) publish(ctx context.Context, updateID int, chatID int64, from *telego.User, ev session.Event) {
	senderID := ""
	if from != nil {
		senderID = strconv.FormatInt(from.ID, 10)
	}
	c.bus.PublishInbound(ctx, bus.InboundEvent{
		Channel:   channelName,
		ChatID:    formatChatID(chatID),
		SenderID:  senderID,
		MessageID: strconv.Itoa(updateID),
		Event:     ev,
	})
}

// isAllowed checks the sender against AllowFrom by numeric ID or username.
func (c *Channel) isAllowed(u *telego.User) bool {
	if len(c.allow) == 0 {
		return true
	}
	if u == nil {
		return false
	}
	return c.allow[strconv.FormatInt(u.ID, 10)] || (u.Username != "" && c.allow[strings.ToLower(u.Username)])
}

// parseCommand maps "/cmd@bot args" to a Command. Commands addressed to
// another bot are treated as plain text.
func parseCommand(text, botUsername string) (session.Command, bool) {
	if !strings.HasPrefix(text, "/") {
		return session.Command{}, false
	}
	head, args, _ := strings.Cut(text, " ")
	name, target, addressed := strings.Cut(head[1:], "@")
	if addressed && botUsername != "" && !strings.EqualFold(target, botUsername) {
		return session.Command{}, false
	}
	if name == "" {
		return session.Command{}, false
	}
	return session.Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}, true
}

func formatChatID(id int64) string { return strconv.FormatInt(id, 10) }

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat ID %q: %w", s, err)
	}
	return id, nil
}
