package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/linescout/internal/bus"
	"github.com/nextlevelbuilder/linescout/internal/registry"
	"github.com/nextlevelbuilder/linescout/internal/scheduler"
	"github.com/nextlevelbuilder/linescout/internal/search"
	"github.com/nextlevelbuilder/linescout/internal/session"
	"github.com/nextlevelbuilder/linescout/internal/source"
)

// blockingSearcher blocks every search until its context ends.
type blockingSearcher struct {
	started chan struct{}
}

func (b blockingSearcher) Run(ctx context.Context, _ search.Request, _ search.ProgressFunc) (*search.Result, error) {
	b.started <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b blockingSearcher) RunAll(ctx context.Context, _ []registry.Entry, _ string, _ search.ProgressFunc) (*search.Summary, error) {
	b.started <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func startGateway(t *testing.T, searcher session.Searcher, cfg Config) (*bus.MessageBus, *session.Store, <-chan bus.OutboundMessage) {
	t.Helper()

	mb := bus.New()
	store := session.NewStore()
	if cfg.Queue.Mode == "" {
		cfg.Queue = scheduler.DefaultQueueConfig()
	}
	gw := New(mb, session.NewMachine(store, searcher), cfg)

	delivered := make(chan bus.OutboundMessage, 64)
	mb.RegisterHandler("test", func(_ context.Context, msg bus.OutboundMessage) error {
		delivered <- msg
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go gw.Run(ctx)

	return mb, store, delivered
}

func next(t *testing.T, ch <-chan bus.OutboundMessage) bus.OutboundMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return bus.OutboundMessage{}
	}
}

func expectNothing(t *testing.T, ch <-chan bus.OutboundMessage) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected outbound message %#v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func inbound(chatID, msgID string, ev session.Event) bus.InboundEvent {
	return bus.InboundEvent{Channel: "test", ChatID: chatID, MessageID: msgID, Event: ev}
}

func TestGateway_DeliversReplies(t *testing.T) {
	mb, _, delivered := startGateway(t, blockingSearcher{started: make(chan struct{}, 1)}, Config{})

	mb.PublishInbound(context.Background(), inbound("1", "u1", session.Command{Name: "start"}))

	msg := next(t, delivered)
	if msg.ChatID != "1" || msg.RunID == "" {
		t.Errorf("unexpected routing %+v", msg)
	}
	if _, ok := msg.Message.(session.Menu); !ok {
		t.Errorf("expected main menu, got %#v", msg.Message)
	}
}

func TestGateway_DropsDuplicates(t *testing.T) {
	mb, _, delivered := startGateway(t, blockingSearcher{started: make(chan struct{}, 1)}, Config{})
	ctx := context.Background()

	mb.PublishInbound(ctx, inbound("1", "u7", session.Command{Name: "help"}))
	mb.PublishInbound(ctx, inbound("1", "u7", session.Command{Name: "help"}))

	next(t, delivered)
	expectNothing(t, delivered)
}

func TestGateway_RateLimits(t *testing.T) {
	mb, _, delivered := startGateway(t, blockingSearcher{started: make(chan struct{}, 1)}, Config{RatePerMinute: 1, RateBurst: 1})
	ctx := context.Background()

	mb.PublishInbound(ctx, inbound("1", "a", session.Command{Name: "help"}))
	mb.PublishInbound(ctx, inbound("1", "b", session.Command{Name: "help"}))
	mb.PublishInbound(ctx, inbound("1", "c", session.Command{Name: "help"}))

	var bodies []string
	for i := 0; i < 2; i++ {
		if txt, ok := next(t, delivered).Message.(session.Text); ok {
			bodies = append(bodies, txt.Body)
		}
	}
	expectNothing(t, delivered)

	limited := 0
	for _, b := range bodies {
		if b == msgRateLimited {
			limited++
		}
	}
	if limited != 1 {
		t.Errorf("expected exactly one rate-limit notice, got %v", bodies)
	}
}

func TestGateway_NewEventInterruptsSearch(t *testing.T) {
	searcher := blockingSearcher{started: make(chan struct{}, 1)}
	mb, store, delivered := startGateway(t, searcher, Config{})
	ctx := context.Background()

	s := store.Get("test:1")
	s.Links.Register("a", source.Local("/tmp/a"))
	s.State = session.AwaitingDomain{Target: "a"}

	mb.PublishInbound(ctx, inbound("1", "s1", session.FreeText{Text: "foo"}))
	select {
	case <-searcher.started:
	case <-time.After(3 * time.Second):
		t.Fatal("search did not start")
	}

	first := next(t, delivered)
	if first.Progress == nil || first.Progress.Final {
		t.Fatalf("expected initial progress line, got %#v", first)
	}

	mb.PublishInbound(ctx, inbound("1", "s2", session.Command{Name: "help"}))

	final := next(t, delivered)
	if final.Progress == nil || !final.Progress.Final || final.Progress.ID != first.Progress.ID {
		t.Fatalf("expected the progress line to be closed, got %#v", final)
	}
	if !strings.Contains(final.Progress.Text, "cancelled") {
		t.Errorf("final progress = %q", final.Progress.Text)
	}

	help := next(t, delivered)
	if txt, ok := help.Message.(session.Text); !ok || !strings.Contains(txt.Body, "/help") {
		t.Errorf("expected help text next, got %#v", help)
	}
	expectNothing(t, delivered)
}

func TestGateway_CancelStopsQueuedSearch(t *testing.T) {
	searcher := blockingSearcher{started: make(chan struct{}, 1)}
	cfg := Config{Queue: scheduler.QueueConfig{Mode: scheduler.QueueModeQueue, Cap: 10, Drop: scheduler.DropOld}}
	mb, store, delivered := startGateway(t, searcher, cfg)
	ctx := context.Background()

	s := store.Get("test:1")
	s.Links.Register("a", source.Local("/tmp/a"))
	s.State = session.AwaitingDomain{Target: "a"}

	mb.PublishInbound(ctx, inbound("1", "s1", session.FreeText{Text: "foo"}))
	select {
	case <-searcher.started:
	case <-time.After(3 * time.Second):
		t.Fatal("search did not start")
	}
	first := next(t, delivered)
	if first.Progress == nil {
		t.Fatalf("expected progress line, got %#v", first)
	}

	// In queue mode /cancel would otherwise wait for the search to finish.
	mb.PublishInbound(ctx, inbound("1", "s2", session.Command{Name: "cancel"}))

	final := next(t, delivered)
	if final.Progress == nil || !final.Progress.Final {
		t.Fatalf("expected the progress line to be closed, got %#v", final)
	}
	reply := next(t, delivered)
	if _, ok := reply.Message.(session.Text); !ok {
		t.Errorf("expected cancel confirmation, got %#v", reply)
	}
}

func TestGateway_RunStats(t *testing.T) {
	searcher := blockingSearcher{started: make(chan struct{}, 1)}
	mb := bus.New()
	store := session.NewStore()
	gw := New(mb, session.NewMachine(store, searcher), Config{Queue: scheduler.DefaultQueueConfig(), Lanes: scheduler.DefaultLanes()})
	mb.RegisterHandler("test", func(context.Context, bus.OutboundMessage) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go gw.Run(ctx)

	s := store.Get("test:1")
	s.Links.Register("a", source.Local("/tmp/a"))
	s.State = session.AwaitingDomain{Target: "a"}
	mb.PublishInbound(ctx, inbound("1", "s1", session.FreeText{Text: "foo"}))
	select {
	case <-searcher.started:
	case <-time.After(3 * time.Second):
		t.Fatal("search did not start")
	}

	if n := gw.ActiveRuns(); n != 1 {
		t.Errorf("ActiveRuns = %d, want 1", n)
	}
	stats := gw.LaneStats()
	if len(stats) == 0 || stats[0].Name != "main" || stats[0].Active != 1 {
		t.Errorf("LaneStats = %+v", stats)
	}
}
