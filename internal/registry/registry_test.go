package registry

import (
	"errors"
	"slices"
	"testing"

	"github.com/nextlevelbuilder/linescout/internal/source"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := New()
	reg.Register("logs", source.Remote("https://example.com/a.txt"))

	got, err := reg.Get("logs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Value != "https://example.com/a.txt" {
		t.Errorf("expected a.txt locator, got %q", got.Value)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := New()
	if _, err := reg.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_OverwriteReturnsNewLocatorOnly(t *testing.T) {
	reg := New()
	reg.Register("a", source.Remote("https://example.com/old.txt"))
	reg.Register("b", source.Local("/tmp/b.txt"))
	reg.Register("a", source.Remote("https://example.com/new.txt"))

	got, err := reg.Get("a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Value != "https://example.com/new.txt" {
		t.Errorf("expected new locator, got %q", got.Value)
	}
	if reg.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", reg.Len())
	}
	// Overwrite keeps the original slot.
	if names := reg.List(); !slices.Equal(names, []string{"a", "b"}) {
		t.Errorf("unexpected order: %v", names)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	reg := New()
	reg.Register("a", source.Local("/tmp/a.txt"))

	if err := reg.Unregister("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reg.Unregister("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second unregister: expected ErrNotFound, got %v", err)
	}
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}
}

func TestRegistry_ListInsertionOrder(t *testing.T) {
	reg := New()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		reg.Register(name, source.Local("/tmp/"+name))
	}
	reg.Unregister("alpha")
	reg.Register("alpha", source.Local("/tmp/alpha"))

	want := []string{"zeta", "mid", "alpha"}
	if names := reg.List(); !slices.Equal(names, want) {
		t.Errorf("List() = %v, want %v", names, want)
	}

	entries := reg.Entries()
	if len(entries) != 3 || entries[2].Name != "alpha" || entries[2].Locator.Value != "/tmp/alpha" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}
