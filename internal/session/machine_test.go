package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/linescout/internal/registry"
	"github.com/nextlevelbuilder/linescout/internal/search"
	"github.com/nextlevelbuilder/linescout/internal/source"
)

type recordingReporter struct {
	mu      sync.Mutex
	sent    []Outgoing
	updates []string
	final   string
	opened  int
}

func (r *recordingReporter) Send(_ context.Context, msg Outgoing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
}

func (r *recordingReporter) Progress(_ context.Context, initial string) ProgressLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened++
	return &recordingLine{r: r}
}

type recordingLine struct{ r *recordingReporter }

func (l *recordingLine) Update(text string) {
	l.r.mu.Lock()
	defer l.r.mu.Unlock()
	l.r.updates = append(l.r.updates, text)
}

func (l *recordingLine) Close(final string) {
	l.r.mu.Lock()
	defer l.r.mu.Unlock()
	l.r.final = final
}

// failingRemote fails every remote open with the given status.
type failingRemote struct{ status int }

func (f failingRemote) Open(_ context.Context, loc source.Locator) (source.Source, error) {
	return nil, &source.FetchError{URL: loc.Value, StatusCode: f.status}
}

func newTestMachine() *Machine {
	opener := &source.Mux{File: &source.FileOpener{}, Remote: failingRemote{status: 404}}
	return NewMachine(NewStore(), search.NewEngine(opener, search.Config{}))
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func upload(t *testing.T, m *Machine, sid, name, body string) {
	t.Helper()
	path := writeFile(t, name, body)
	m.OnEvent(context.Background(), sid, FileUpload{Name: name, Locator: source.Local(path)}, nil)
}

func texts(out []Outgoing) []string {
	var s []string
	for _, o := range out {
		if t, ok := o.(Text); ok {
			s = append(s, t.Body)
		}
	}
	return s
}

func hasMainMenu(out []Outgoing) bool {
	for _, o := range out {
		if mm, ok := o.(Menu); ok && mm.Prompt == msgChooseAction {
			return true
		}
	}
	return false
}

func findDocument(out []Outgoing) (Document, bool) {
	for _, o := range out {
		if d, ok := o.(Document); ok {
			return d, true
		}
	}
	return Document{}, false
}

func TestMachine_AddLinkFlow(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()
	const sid = "chat-1"

	m.OnEvent(ctx, sid, MenuSelection{Token: TokenAdd}, nil)
	if _, ok := m.Store().Get(sid).State.(AwaitingURL); !ok {
		t.Fatalf("expected AwaitingURL, got %s", StateName(m.Store().Get(sid).State))
	}

	out := m.OnEvent(ctx, sid, FreeText{Text: "not a url"}, nil)
	if got := texts(out); len(got) != 1 || got[0] != msgInvalidURL {
		t.Errorf("invalid url: got %v", got)
	}
	if _, ok := m.Store().Get(sid).State.(AwaitingURL); !ok {
		t.Error("invalid url must keep AwaitingURL")
	}

	m.OnEvent(ctx, sid, FreeText{Text: " https://example.com/hosts.txt "}, nil)
	s := m.Store().Get(sid)
	st, ok := s.State.(AwaitingFilename)
	if !ok || st.Pending.Value != "https://example.com/hosts.txt" {
		t.Fatalf("expected pending locator, got %s", StateName(s.State))
	}

	out = m.OnEvent(ctx, sid, FreeText{Text: "   "}, nil)
	if got := texts(out); len(got) != 1 || got[0] != msgEmptyName {
		t.Errorf("empty name: got %v", got)
	}
	if _, ok := s.State.(AwaitingFilename); !ok {
		t.Error("empty name must keep the pending locator")
	}

	out = m.OnEvent(ctx, sid, FreeText{Text: "hosts"}, nil)
	if !hasMainMenu(out) {
		t.Error("expected main menu after saving")
	}
	if _, ok := s.State.(Idle); !ok {
		t.Errorf("expected Idle, got %s", StateName(s.State))
	}
	loc, err := s.Links.Get("hosts")
	if err != nil || loc.Kind != source.KindRemote {
		t.Errorf("expected remote registered under hosts, got %+v %v", loc, err)
	}
}

func TestMachine_NameTooLong(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()

	m.OnEvent(ctx, "c", MenuSelection{Token: TokenAdd}, nil)
	m.OnEvent(ctx, "c", FreeText{Text: "https://example.com/x"}, nil)
	out := m.OnEvent(ctx, "c", FreeText{Text: strings.Repeat("n", MaxNameBytes+1)}, nil)

	if got := texts(out); len(got) != 1 || got[0] != nameTooLongText() {
		t.Errorf("got %v", got)
	}
	if _, ok := m.Store().Get("c").State.(AwaitingFilename); !ok {
		t.Error("expected to stay in AwaitingFilename")
	}
}

func TestMachine_MenuAbandonsPending(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()

	m.OnEvent(ctx, "c", MenuSelection{Token: TokenAdd}, nil)
	m.OnEvent(ctx, "c", FreeText{Text: "https://example.com/x"}, nil)
	m.OnEvent(ctx, "c", MenuSelection{Token: TokenSearch}, nil)

	s := m.Store().Get("c")
	if _, ok := s.State.(AwaitingFilename); ok {
		t.Error("pending must be cleared when leaving AwaitingFilename")
	}
	if s.Links.Len() != 0 {
		t.Error("nothing should be registered")
	}
}

func TestMachine_SearchOne(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()
	upload(t, m, "c", "hosts.txt", "example.com\nexamples.com\nmail.EXAMPLE.com\n")

	m.OnEvent(ctx, "c", MenuSelection{Token: "search_file:hosts.txt"}, nil)
	if st, ok := m.Store().Get("c").State.(AwaitingDomain); !ok || st.Target != "hosts.txt" {
		t.Fatalf("expected AwaitingDomain(hosts.txt), got %#v", m.Store().Get("c").State)
	}

	rep := &recordingReporter{}
	out := m.OnEvent(ctx, "c", FreeText{Text: "example.com"}, rep)

	doc, ok := findDocument(out)
	if !ok {
		t.Fatalf("expected a document, got %#v", out)
	}
	if doc.Filename != "search_results_example.com.txt" {
		t.Errorf("filename = %q", doc.Filename)
	}
	if string(doc.Data) != "example.com\nmail.EXAMPLE.com\n" {
		t.Errorf("data = %q", doc.Data)
	}
	if !strings.Contains(doc.Caption, "Found 2 matches") {
		t.Errorf("caption = %q", doc.Caption)
	}
	if rep.opened != 1 || rep.final != completeText(2) {
		t.Errorf("progress line: opened=%d final=%q", rep.opened, rep.final)
	}
	if !hasMainMenu(out) {
		t.Error("expected main menu after search")
	}
	if _, ok := m.Store().Get("c").State.(Idle); !ok {
		t.Error("expected Idle after search")
	}
}

func TestMachine_SearchOneNoResults(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()
	upload(t, m, "c", "a.txt", "alpha\n")

	m.OnEvent(ctx, "c", MenuSelection{Token: "search_file:a.txt"}, nil)
	out := m.OnEvent(ctx, "c", FreeText{Text: "beta"}, nil)

	if _, ok := findDocument(out); ok {
		t.Error("no document expected")
	}
	got := texts(out)
	if len(got) != 1 || !strings.HasPrefix(got[0], "❌ No results for <code>beta</code>") {
		t.Errorf("got %v", got)
	}
}

func TestMachine_SearchOneFetchError(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()
	s := m.Store().Get("c")
	s.Links.Register("remote", source.Remote("https://example.com/missing"))

	m.OnEvent(ctx, "c", MenuSelection{Token: "search_file:remote"}, nil)
	rep := &recordingReporter{}
	out := m.OnEvent(ctx, "c", FreeText{Text: "foo"}, rep)

	got := texts(out)
	if len(got) != 1 || !strings.Contains(got[0], "not found (HTTP 404)") {
		t.Errorf("got %v", got)
	}
	if rep.final != msgSearchFailed {
		t.Errorf("final = %q", rep.final)
	}
}

func TestMachine_SearchOneRacedDelete(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()
	upload(t, m, "c", "a.txt", "foo\n")

	m.OnEvent(ctx, "c", MenuSelection{Token: "search_file:a.txt"}, nil)
	m.Store().Get("c").Links.Unregister("a.txt")

	out := m.OnEvent(ctx, "c", FreeText{Text: "foo"}, nil)
	if got := texts(out); len(got) != 1 || got[0] != msgFileNotFound {
		t.Errorf("got %v", got)
	}
	if _, ok := m.Store().Get("c").State.(Idle); !ok {
		t.Error("expected Idle")
	}
}

func TestMachine_EmptyPatternKeepsState(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()
	upload(t, m, "c", "a.txt", "foo\n")

	m.OnEvent(ctx, "c", MenuSelection{Token: TokenSearchAll}, nil)
	out := m.OnEvent(ctx, "c", FreeText{Text: "  "}, nil)

	if got := texts(out); len(got) != 1 || got[0] != msgEmptyPattern {
		t.Errorf("got %v", got)
	}
	if _, ok := m.Store().Get("c").State.(AwaitingDomainAll); !ok {
		t.Error("expected to stay in AwaitingDomainAll")
	}
}

func TestMachine_SearchAll(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()
	upload(t, m, "c", "A", "a line with TOKEN here\n")
	upload(t, m, "c", "B", "no match\n")
	m.Store().Get("c").Links.Register("C", source.Remote("https://example.com/gone"))

	m.OnEvent(ctx, "c", MenuSelection{Token: TokenSearchAll}, nil)
	rep := &recordingReporter{}
	out := m.OnEvent(ctx, "c", FreeText{Text: "TOKEN"}, rep)

	if len(rep.sent) != 1 || !strings.Contains(rep.sent[0].(Text).Body, "across 3 files") {
		t.Errorf("expected searching notice, got %#v", rep.sent)
	}

	got := texts(out)
	if len(got) != 1 {
		t.Fatalf("expected summary text, got %v", got)
	}
	summary := got[0]
	for _, want := range []string{"A  1 match", "B  0 matches", "C  error: not found (HTTP 404)"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}

	doc, ok := findDocument(out)
	if !ok {
		t.Fatal("expected a document")
	}
	if string(doc.Data) != "[A] a line with TOKEN here\n" {
		t.Errorf("data = %q", doc.Data)
	}
	if doc.Filename != "search_all_TOKEN.txt" {
		t.Errorf("filename = %q", doc.Filename)
	}
}

func TestMachine_SearchAllNoResults(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()
	upload(t, m, "c", "A", "nothing\n")

	m.OnEvent(ctx, "c", MenuSelection{Token: TokenSearchAll}, nil)
	out := m.OnEvent(ctx, "c", FreeText{Text: "zzz"}, nil)

	if _, ok := findDocument(out); ok {
		t.Error("no document expected")
	}
	got := texts(out)
	if len(got) != 2 || got[1] != noResultsAllText("zzz") {
		t.Errorf("got %v", got)
	}
}

func TestMachine_EmptyRegistryMenus(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()

	for _, token := range []string{TokenSearch, TokenSearchOne, TokenSearchAll} {
		out := m.OnEvent(ctx, "c", MenuSelection{Token: token}, nil)
		if got := texts(out); len(got) != 1 || got[0] != msgNoFiles || !hasMainMenu(out) {
			t.Errorf("%s: got %v", token, got)
		}
	}
	out := m.OnEvent(ctx, "c", MenuSelection{Token: TokenDelete}, nil)
	if got := texts(out); len(got) != 1 || got[0] != msgNoFilesDelete {
		t.Errorf("delete: got %v", got)
	}
}

func TestMachine_Delete(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()
	upload(t, m, "c", "a.txt", "x\n")

	out := m.OnEvent(ctx, "c", MenuSelection{Token: TokenDelete}, nil)
	menu, ok := out[0].(Menu)
	if !ok || len(menu.Rows) != 1 || menu.Rows[0][0].Token != "delete_file:a.txt" {
		t.Fatalf("unexpected delete menu %#v", out)
	}

	out = m.OnEvent(ctx, "c", MenuSelection{Token: "delete_file:a.txt"}, nil)
	if got := texts(out); len(got) != 1 || got[0] != removedText("a.txt") {
		t.Errorf("got %v", got)
	}

	out = m.OnEvent(ctx, "c", MenuSelection{Token: "delete_file:a.txt"}, nil)
	if got := texts(out); len(got) != 1 || got[0] != msgFileNotFound {
		t.Errorf("second delete: got %v", got)
	}
}

func TestMachine_StartResets(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()
	upload(t, m, "c", "a.txt", "x\n")
	m.OnEvent(ctx, "c", MenuSelection{Token: TokenAdd}, nil)

	out := m.OnEvent(ctx, "c", Command{Name: "start"}, nil)
	if !hasMainMenu(out) {
		t.Error("expected main menu")
	}
	s := m.Store().Get("c")
	if s.Links.Len() != 0 {
		t.Error("registry must be empty after /start")
	}
	if _, ok := s.State.(Idle); !ok {
		t.Error("expected Idle after /start")
	}
}

func TestMachine_Commands(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()
	upload(t, m, "c", "a.txt", "x\n")

	out := m.OnEvent(ctx, "c", Command{Name: "list"}, nil)
	if got := texts(out); len(got) != 1 || !strings.Contains(got[0], "<code>a.txt</code>") {
		t.Errorf("list: got %v", got)
	}

	m.OnEvent(ctx, "c", MenuSelection{Token: TokenSearchAll}, nil)
	m.OnEvent(ctx, "c", Command{Name: "cancel"}, nil)
	if _, ok := m.Store().Get("c").State.(Idle); !ok {
		t.Error("expected Idle after /cancel")
	}

	out = m.OnEvent(ctx, "c", Command{Name: "bogus"}, nil)
	if got := texts(out); len(got) != 1 || got[0] != msgUnknownCommand {
		t.Errorf("unknown: got %v", got)
	}
}

func TestMachine_UploadClipsName(t *testing.T) {
	m := newTestMachine()
	long := strings.Repeat("я", MaxNameBytes) // 2 bytes per rune
	upload(t, m, "c", "x.txt", "x\n")
	m.OnEvent(context.Background(), "c", FileUpload{Name: long, Locator: source.Local("/tmp/whatever")}, nil)

	names := m.Store().Get("c").Links.List()
	if len(names) != 2 || len(names[1]) != MaxNameBytes {
		t.Errorf("unexpected names %q", names)
	}
}

// cancellingSearcher cancels the run context part way through.
type cancellingSearcher struct{ cancel context.CancelFunc }

func (c cancellingSearcher) Run(ctx context.Context, _ search.Request, onProgress search.ProgressFunc) (*search.Result, error) {
	onProgress(search.Progress{Lines: 5000, Percent: -1})
	c.cancel()
	return nil, ctx.Err()
}

func (c cancellingSearcher) RunAll(ctx context.Context, _ []registry.Entry, _ string, _ search.ProgressFunc) (*search.Summary, error) {
	c.cancel()
	return nil, ctx.Err()
}

func TestMachine_CancelledSearchDiscardsOutput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMachine(NewStore(), cancellingSearcher{cancel: cancel})
	m.Store().Get("c").Links.Register("a", source.Local("/tmp/a"))

	m.OnEvent(context.Background(), "c", MenuSelection{Token: "search_file:a"}, nil)
	rep := &recordingReporter{}
	out := m.OnEvent(ctx, "c", FreeText{Text: "foo"}, rep)

	if out != nil {
		t.Errorf("expected no output, got %#v", out)
	}
	if rep.final != msgCancelled {
		t.Errorf("final = %q", rep.final)
	}
	if _, ok := m.Store().Get("c").State.(Idle); !ok {
		t.Error("expected Idle after cancelled search")
	}
}
