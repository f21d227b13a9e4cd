package search

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/linescout/internal/registry"
	"github.com/nextlevelbuilder/linescout/internal/source"
)

func abEntries() []registry.Entry {
	return []registry.Entry{
		{Name: "A", Locator: source.Local("a")},
		{Name: "B", Locator: source.Local("b")},
	}
}

func abOpener() *memOpener {
	return &memOpener{files: map[string]string{
		"a": "foo bar\nbaz\n",
		"b": "Foo\nfoo.\nqux\n",
	}}
}

func TestRunAll_CombinesInRegistryOrder(t *testing.T) {
	for _, parallelism := range []int{1, 4} {
		e := NewEngine(abOpener(), Config{Parallelism: parallelism})

		sum, err := e.RunAll(context.Background(), abEntries(), "foo", nil)
		if err != nil {
			t.Fatalf("parallelism %d: unexpected error: %v", parallelism, err)
		}
		if sum.Total != 3 {
			t.Errorf("parallelism %d: total = %d, want 3", parallelism, sum.Total)
		}
		if len(sum.Resources) != 2 ||
			sum.Resources[0].Name != "A" || sum.Resources[0].Matches != 1 ||
			sum.Resources[1].Name != "B" || sum.Resources[1].Matches != 2 {
			t.Errorf("parallelism %d: unexpected summary %+v", parallelism, sum.Resources)
		}

		want := "[A] foo bar\n[B] Foo\n[B] foo.\n"
		if got := string(sum.Result.Bytes()); got != want {
			t.Errorf("parallelism %d: result file = %q, want %q", parallelism, got, want)
		}
	}
}

func TestRunAll_FailedResourceDoesNotAbort(t *testing.T) {
	op := abOpener()
	op.failOpen = map[string]error{"a": &source.FetchError{URL: "a", StatusCode: 500}}
	e := NewEngine(op, Config{})

	sum, err := e.RunAll(context.Background(), abEntries(), "foo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Resources[0].Err == nil {
		t.Error("expected error recorded for A")
	}
	if sum.Resources[1].Err != nil || sum.Resources[1].Matches != 2 {
		t.Errorf("unexpected B summary %+v", sum.Resources[1])
	}
	if sum.Total != 2 || sum.Failed() != 1 {
		t.Errorf("total=%d failed=%d", sum.Total, sum.Failed())
	}
}

func TestRunAll_Empty(t *testing.T) {
	sum, err := NewEngine(abOpener(), Config{}).RunAll(context.Background(), nil, "foo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Total != 0 || len(sum.Resources) != 0 || sum.Result != nil {
		t.Errorf("expected empty summary, got %+v", sum)
	}
}

func TestRunAll_Cancelled(t *testing.T) {
	op := &memOpener{files: map[string]string{"a": numberedLines(20000), "b": numberedLines(10)}}
	e := NewEngine(op, Config{Cadence: Cadence{EveryLines: 100}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sum, err := e.RunAll(ctx, abEntries(), "line", func(p Progress) {
		if p.Lines == 200 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sum != nil {
		t.Error("expected no summary after cancellation")
	}
	if n := op.opens.Load(); n != 1 {
		t.Errorf("expected B never opened, got %d opens", n)
	}
}

func TestRunAll_ProgressNamesResource(t *testing.T) {
	e := NewEngine(abOpener(), Config{})

	var done []string
	_, err := e.RunAll(context.Background(), abEntries(), "foo", func(p Progress) {
		if p.Done {
			done = append(done, p.Resource)
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(done) != 2 || done[0] != "A" || done[1] != "B" {
		t.Errorf("expected completion for A then B, got %v", done)
	}
}

func TestRunAll_TokenExample(t *testing.T) {
	op := &memOpener{files: map[string]string{
		"a": "a line with TOKEN here\n",
		"b": "no match\n",
	}}
	sum, err := NewEngine(op, Config{}).RunAll(context.Background(), abEntries(), "TOKEN", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Resources[0].Matches != 1 || sum.Resources[1].Matches != 0 || sum.Total != 1 {
		t.Errorf("unexpected summary %+v total=%d", sum.Resources, sum.Total)
	}
	if got := string(sum.Result.Bytes()); got != "[A] a line with TOKEN here\n" {
		t.Errorf("result file = %q", got)
	}
}
