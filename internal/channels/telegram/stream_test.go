package telegram

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/linescout/internal/bus"
)

func progress(id, text string, final bool) bus.OutboundMessage {
	return bus.OutboundMessage{ChatID: "42", Progress: &bus.ProgressUpdate{ID: id, Text: text, Final: final}}
}

func TestProgress_ThrottledAndFinalFlush(t *testing.T) {
	c, bot, _ := newTestChannel(t, Config{ProgressThrottle: time.Hour})
	ctx := context.Background()

	c.Send(ctx, progress("p1", "Processed 0 lines", false))
	c.Send(ctx, progress("p1", "Processed 5,000 lines", false))
	c.Send(ctx, progress("p1", "Processed 10,000 lines", false))

	if len(bot.sent) != 1 || len(bot.edits) != 0 {
		t.Fatalf("throttled updates: sent=%d edits=%d", len(bot.sent), len(bot.edits))
	}

	if err := c.Send(ctx, progress("p1", "Search complete", true)); err != nil {
		t.Fatal(err)
	}
	if len(bot.edits) != 1 || bot.edits[0].Text != "Search complete" || bot.edits[0].MessageID != 1 {
		t.Fatalf("final edit = %+v", bot.edits)
	}

	// A closed status message is forgotten.
	if _, ok := c.progress.Load(progressKey(42, "p1")); ok {
		t.Error("final update should remove the status message")
	}
}

func TestProgress_Dedup(t *testing.T) {
	c, bot, _ := newTestChannel(t, Config{ProgressThrottle: time.Nanosecond})
	ctx := context.Background()

	c.Send(ctx, progress("p", "same", false))
	time.Sleep(time.Millisecond)
	c.Send(ctx, progress("p", "same", false))
	c.Send(ctx, progress("p", "same", true))

	if len(bot.sent) != 1 || len(bot.edits) != 0 {
		t.Errorf("identical text must not be re-sent: sent=%d edits=%d", len(bot.sent), len(bot.edits))
	}
}

func TestProgress_SeparateMessages(t *testing.T) {
	c, bot, _ := newTestChannel(t, Config{})
	ctx := context.Background()

	c.Send(ctx, progress("a", "one", false))
	c.Send(ctx, progress("b", "two", false))

	if len(bot.sent) != 2 {
		t.Errorf("each progress ID gets its own message, sent=%d", len(bot.sent))
	}
}

func TestProgress_StopAfterStopIsNoop(t *testing.T) {
	bot := &fakeBot{}
	pm := newProgressMessage(bot, 1, time.Hour)
	ctx := context.Background()

	pm.Update(ctx, "start")
	if err := pm.Stop(ctx, "done"); err != nil {
		t.Fatal(err)
	}
	pm.Update(ctx, "late")
	pm.Stop(ctx, "again")

	if pm.messageID != 1 || len(bot.edits) != 1 {
		t.Errorf("message=%d edits=%d", pm.messageID, len(bot.edits))
	}
}

func TestProgress_LongTextClippedOnRuneBoundary(t *testing.T) {
	bot := &fakeBot{}
	pm := newProgressMessage(bot, 1, time.Hour)

	// "é" is two bytes, so an odd limit would land mid-rune.
	text := "x" + strings.Repeat("é", telegramMaxMessageLen)
	pm.Update(context.Background(), text)

	if len(bot.sent) != 1 {
		t.Fatalf("sent=%d", len(bot.sent))
	}
	got := bot.sent[0].Text
	if len(got) > telegramMaxMessageLen {
		t.Errorf("len = %d, want <= %d", len(got), telegramMaxMessageLen)
	}
	if !utf8.ValidString(got) {
		t.Error("clipped text is not valid UTF-8")
	}
	if !strings.HasPrefix(text, got) || len(got) < telegramMaxMessageLen-1 {
		t.Errorf("clipped to %d bytes", len(got))
	}
}

func TestChunkHTML(t *testing.T) {
	if got := chunkHTML("short", 100); len(got) != 1 || got[0] != "short" {
		t.Errorf("short text = %q", got)
	}

	var b strings.Builder
	b.WriteString("Summary:\n<pre>")
	for i := 0; i < 40; i++ {
		b.WriteString("resource-name  12 matches\n")
	}
	b.WriteString("</pre>")

	chunks := chunkHTML(b.String(), 200)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch) > 200 {
			t.Errorf("chunk %d is %d bytes", i, len(ch))
		}
		if strings.Count(ch, "<pre>") != strings.Count(ch, "</pre>") {
			t.Errorf("chunk %d has unbalanced <pre>: %q", i, ch)
		}
	}
}

func TestChunkHTML_LongLine(t *testing.T) {
	line := strings.Repeat("é", 300) // 600 bytes, no newlines
	chunks := chunkHTML(line, 100)
	var joined strings.Builder
	for _, ch := range chunks {
		if len(ch) > 100 {
			t.Errorf("chunk is %d bytes", len(ch))
		}
		joined.WriteString(ch)
	}
	if joined.String() != line {
		t.Error("chunks must reassemble to the original text")
	}
}
