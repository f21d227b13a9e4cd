// Package gateway connects channels to the session state machine: it consumes
// inbound events, schedules runs per session and publishes the replies.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/linescout/internal/bus"
	"github.com/nextlevelbuilder/linescout/internal/scheduler"
	"github.com/nextlevelbuilder/linescout/internal/session"
)

const (
	defaultLane      = "main"
	finalEditTimeout = 2 * time.Second

	msgRateLimited = "⚠️ Too many requests. Please wait a moment and try again."
)

// Config tunes the gateway.
type Config struct {
	Queue         scheduler.QueueConfig
	Lanes         []scheduler.LaneConfig
	RatePerMinute int
	RateBurst     int
}

// Gateway owns the session store (through the machine) and the scheduler.
type Gateway struct {
	bus     *bus.MessageBus
	machine *session.Machine
	sched   *scheduler.Scheduler
	limiter *RateLimiter
	notices *RateLimiter // at most one "slow down" per chat per minute
	dedupe  *bus.DedupeCache
}

func New(mb *bus.MessageBus, machine *session.Machine, cfg Config) *Gateway {
	g := &Gateway{
		bus:     mb,
		machine: machine,
		limiter: NewRateLimiter(cfg.RatePerMinute, cfg.RateBurst),
		notices: NewRateLimiter(1, 1),
		dedupe:  bus.NewDedupeCache(bus.DefaultDedupeTTL, bus.DefaultDedupeSize),
	}
	g.sched = scheduler.NewScheduler(cfg.Lanes, cfg.Queue, g.run)
	return g
}

// SetRateLimit changes the per-chat limit, e.g. after a config reload.
func (g *Gateway) SetRateLimit(perMinute, burst int) {
	g.limiter.SetLimits(perMinute, burst)
	slog.Info("gateway rate limit updated", "per_minute", perMinute, "burst", burst)
}

// Sessions returns the number of known sessions.
func (g *Gateway) Sessions() int { return g.machine.Store().Len() }

// ActiveRuns returns the number of sessions with a run in flight.
func (g *Gateway) ActiveRuns() int { return g.sched.ActiveSessions() }

// LaneStats reports per-lane utilization.
func (g *Gateway) LaneStats() []scheduler.LaneStats { return g.sched.LaneStats() }

// Run consumes inbound events and delivers outbound messages until ctx is
// cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	defer g.sched.Stop()

	go g.limiter.cleanupLoop(ctx)
	go g.notices.cleanupLoop(ctx)
	go g.dispatchOutbound(ctx)

	slog.Info("gateway started")
	for {
		ev, ok := g.bus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("gateway stopped")
			return nil
		}
		g.handle(ctx, ev)
	}
}

func (g *Gateway) handle(ctx context.Context, ev bus.InboundEvent) {
	key := ev.SessionKey()

	if ev.MessageID != "" && g.dedupe.IsDuplicate(ev.Channel+":"+ev.MessageID) {
		slog.Debug("duplicate event dropped", "session", key, "message_id", ev.MessageID)
		return
	}

	if !g.limiter.Allow(key) {
		if g.notices.Allow(key) {
			g.publish(ctx, ev.Channel, ev.ChatID, "", session.Text{Body: msgRateLimited})
		}
		return
	}

	// /cancel must not wait behind the search it is meant to stop.
	if cmd, ok := ev.Event.(session.Command); ok && cmd.Name == "cancel" {
		if g.sched.Cancel(key) {
			slog.Info("run cancelled by user", "session", key)
		}
	}

	req := scheduler.RunRequest{
		SessionKey: key,
		RunID:      uuid.NewString(),
		Channel:    ev.Channel,
		ChatID:     ev.ChatID,
		Event:      ev.Event,
	}
	outcome := g.sched.Schedule(ctx, defaultLane, req)
	go g.logOutcome(req, outcome)
}

// run executes one event. Replies are published before returning so that
// they stay ordered ahead of the next run for the same session.
func (g *Gateway) run(ctx context.Context, req scheduler.RunRequest) (*scheduler.RunResult, error) {
	start := time.Now()
	rep := &busReporter{gw: g, channel: req.Channel, chatID: req.ChatID, runID: req.RunID}

	msgs := g.machine.OnEvent(ctx, req.SessionKey, req.Event, rep)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, m := range msgs {
		g.publish(ctx, req.Channel, req.ChatID, req.RunID, m)
	}

	slog.Debug("run finished",
		"session", req.SessionKey,
		"run_id", req.RunID,
		"event", session.EventKind(req.Event),
		"messages", len(msgs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &scheduler.RunResult{RunID: req.RunID, Messages: msgs}, nil
}

func (g *Gateway) logOutcome(req scheduler.RunRequest, outcome <-chan scheduler.RunOutcome) {
	out := <-outcome
	switch {
	case out.Err == nil:
	case errors.Is(out.Err, context.Canceled), errors.Is(out.Err, scheduler.ErrQueueDropped):
		slog.Debug("run superseded", "session", req.SessionKey, "run_id", req.RunID, "reason", out.Err)
	default:
		slog.Warn("run failed", "session", req.SessionKey, "run_id", req.RunID, "error", out.Err)
	}
}

func (g *Gateway) publish(ctx context.Context, channel, chatID, runID string, m session.Outgoing) {
	g.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		RunID:   runID,
		Message: m,
	})
}

func (g *Gateway) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := g.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		handler, ok := g.bus.GetHandler(msg.Channel)
		if !ok {
			slog.Warn("no handler for outbound message", "channel", msg.Channel, "chat_id", msg.ChatID)
			continue
		}
		if err := handler(ctx, msg); err != nil {
			slog.Warn("outbound delivery failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		}
	}
}

// busReporter publishes live output for a run.
type busReporter struct {
	gw      *Gateway
	channel string
	chatID  string
	runID   string
}

func (r *busReporter) Send(ctx context.Context, m session.Outgoing) {
	r.gw.publish(ctx, r.channel, r.chatID, r.runID, m)
}

func (r *busReporter) Progress(ctx context.Context, initial string) session.ProgressLine {
	line := &busProgressLine{rep: r, ctx: ctx, id: uuid.NewString()}
	line.send(ctx, initial, false)
	return line
}

type busProgressLine struct {
	rep    *busReporter
	ctx    context.Context
	id     string
	closed bool
}

func (l *busProgressLine) Update(text string) {
	if !l.closed {
		l.send(l.ctx, text, false)
	}
}

func (l *busProgressLine) Close(final string) {
	if l.closed {
		return
	}
	l.closed = true

	// The run context may already be cancelled; the final edit still goes out.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(l.ctx), finalEditTimeout)
	defer cancel()
	l.send(ctx, final, true)
}

func (l *busProgressLine) send(ctx context.Context, text string, final bool) {
	l.rep.gw.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel:  l.rep.channel,
		ChatID:   l.rep.chatID,
		RunID:    l.rep.runID,
		Progress: &bus.ProgressUpdate{ID: l.id, Text: text, Final: final},
	})
}
