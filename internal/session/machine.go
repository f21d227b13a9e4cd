package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/linescout/internal/registry"
	"github.com/nextlevelbuilder/linescout/internal/search"
	"github.com/nextlevelbuilder/linescout/internal/source"
)

// Searcher runs searches. *search.Engine implements it.
type Searcher interface {
	Run(ctx context.Context, req search.Request, onProgress search.ProgressFunc) (*search.Result, error)
	RunAll(ctx context.Context, entries []registry.Entry, pattern string, onProgress search.ProgressFunc) (*search.Summary, error)
}

// Reporter delivers output while an event is still being handled.
type Reporter interface {
	// Send delivers msg immediately, ahead of the returned batch.
	Send(ctx context.Context, msg Outgoing)
	// Progress opens a status line that is edited in place.
	Progress(ctx context.Context, initial string) ProgressLine
}

// ProgressLine is a live status message.
type ProgressLine interface {
	Update(text string)
	// Close writes the final text. Updates after Close are ignored.
	Close(final string)
}

// Machine is the per-session state machine. It holds no per-session data
// itself; sessions live in the Store.
type Machine struct {
	store    *Store
	searcher Searcher
}

func NewMachine(store *Store, searcher Searcher) *Machine {
	return &Machine{store: store, searcher: searcher}
}

// Store returns the session store.
func (m *Machine) Store() *Store { return m.store }

// OnEvent applies ev to the session and returns the messages to deliver.
// Calls for the same sessionID must not overlap. If ctx is cancelled while a
// search runs, the search output is discarded and nil is returned.
func (m *Machine) OnEvent(ctx context.Context, sessionID string, ev Event, rep Reporter) []Outgoing {
	if rep == nil {
		rep = nopReporter{}
	}

	if cmd, ok := ev.(Command); ok && cmd.Name == "start" {
		m.store.Reset(sessionID)
		slog.Debug("session reset", "session", sessionID)
		return []Outgoing{mainMenu()}
	}

	s := m.store.Get(sessionID)
	from := StateName(s.State)

	var out []Outgoing
	switch e := ev.(type) {
	case Command:
		out = m.onCommand(s, e)
	case MenuSelection:
		out = m.onMenu(s, e.Token)
	case FreeText:
		out = m.onText(ctx, s, e.Text, rep)
	case FileUpload:
		out = m.onUpload(s, e)
	}

	slog.Debug("session event",
		"session", sessionID,
		"event", EventKind(ev),
		"from", from,
		"to", StateName(s.State),
	)
	return out
}

func (m *Machine) onCommand(s *Session, cmd Command) []Outgoing {
	switch cmd.Name {
	case "help":
		return []Outgoing{Text{Body: helpText}}
	case "list":
		return []Outgoing{Text{Body: listText(s)}}
	case "cancel":
		s.State = Idle{}
		return []Outgoing{Text{Body: msgCancelledAction}, mainMenu()}
	default:
		return []Outgoing{Text{Body: msgUnknownCommand}}
	}
}

// onMenu handles a button tap. Menus stay tappable after newer messages
// arrive, so a selection is honored in any state and abandons it.
func (m *Machine) onMenu(s *Session, token string) []Outgoing {
	s.State = Idle{}

	switch {
	case token == TokenAdd:
		s.State = AwaitingURL{}
		return []Outgoing{Text{Body: msgSendURL}}

	case token == TokenSearch:
		if s.Links.Len() == 0 {
			return []Outgoing{Text{Body: msgNoFiles}, mainMenu()}
		}
		return []Outgoing{searchModeMenu()}

	case token == TokenSearchOne:
		if s.Links.Len() == 0 {
			return []Outgoing{Text{Body: msgNoFiles}, mainMenu()}
		}
		return []Outgoing{pickMenu(msgSelectSearch, "🔍", tokenSearchFile, s.Links.List())}

	case token == TokenSearchAll:
		if s.Links.Len() == 0 {
			return []Outgoing{Text{Body: msgNoFiles}, mainMenu()}
		}
		s.State = AwaitingDomainAll{}
		return []Outgoing{Text{Body: msgAskPatternAll}}

	case token == TokenDelete:
		if s.Links.Len() == 0 {
			return []Outgoing{Text{Body: msgNoFilesDelete}, mainMenu()}
		}
		return []Outgoing{pickMenu(msgSelectDelete, "🗑", tokenDeleteFile, s.Links.List())}

	case token == TokenList:
		return []Outgoing{Text{Body: listText(s)}, mainMenu()}

	case strings.HasPrefix(token, tokenSearchFile):
		name := strings.TrimPrefix(token, tokenSearchFile)
		if _, err := s.Links.Get(name); err != nil {
			return []Outgoing{Text{Body: msgFileNotFound}, mainMenu()}
		}
		s.State = AwaitingDomain{Target: name}
		return []Outgoing{Text{Body: askPatternText(name)}}

	case strings.HasPrefix(token, tokenDeleteFile):
		name := strings.TrimPrefix(token, tokenDeleteFile)
		if err := s.Links.Unregister(name); err != nil {
			return []Outgoing{Text{Body: msgFileNotFound}, mainMenu()}
		}
		slog.Info("resource removed", "session", s.ID, "name", name)
		return []Outgoing{Text{Body: removedText(name)}, mainMenu()}

	default:
		return []Outgoing{Text{Body: msgUnknownAction}, mainMenu()}
	}
}

func (m *Machine) onText(ctx context.Context, s *Session, text string, rep Reporter) []Outgoing {
	text = strings.TrimSpace(text)

	switch st := s.State.(type) {
	case AwaitingURL:
		loc, err := source.ParseRemote(text)
		if err != nil {
			return []Outgoing{Text{Body: msgInvalidURL}}
		}
		s.State = AwaitingFilename{Pending: loc}
		return []Outgoing{Text{Body: msgAskName}}

	case AwaitingFilename:
		switch {
		case text == "":
			return []Outgoing{Text{Body: msgEmptyName}}
		case len(text) > MaxNameBytes:
			return []Outgoing{Text{Body: nameTooLongText()}}
		}
		s.Links.Register(text, st.Pending)
		s.State = Idle{}
		slog.Info("resource registered", "session", s.ID, "name", text, "kind", st.Pending.Kind.String())
		return []Outgoing{Text{Body: savedText(text)}, mainMenu()}

	case AwaitingDomain:
		if text == "" {
			return []Outgoing{Text{Body: msgEmptyPattern}}
		}
		s.State = Idle{}
		loc, err := s.Links.Get(st.Target)
		if err != nil {
			return []Outgoing{Text{Body: msgFileNotFound}, mainMenu()}
		}
		out := m.searchOne(ctx, st.Target, loc, text, rep)
		if out == nil {
			return nil
		}
		return append(out, mainMenu())

	case AwaitingDomainAll:
		if text == "" {
			return []Outgoing{Text{Body: msgEmptyPattern}}
		}
		s.State = Idle{}
		entries := s.Links.Entries()
		if len(entries) == 0 {
			return []Outgoing{Text{Body: msgNoFilesSearch}, mainMenu()}
		}
		out := m.searchAll(ctx, entries, text, rep)
		if out == nil {
			return nil
		}
		return append(out, mainMenu())

	default:
		return []Outgoing{mainMenu()}
	}
}

func (m *Machine) onUpload(s *Session, up FileUpload) []Outgoing {
	name := clipName(strings.TrimSpace(up.Name))
	if name == "" {
		name = up.Locator.DisplayName()
	}
	s.Links.Register(name, up.Locator)
	s.State = Idle{}
	slog.Info("resource uploaded", "session", s.ID, "name", name)
	return []Outgoing{Text{Body: uploadedText(name)}, mainMenu()}
}

// searchOne returns nil when ctx was cancelled.
func (m *Machine) searchOne(ctx context.Context, name string, loc source.Locator, pattern string, rep Reporter) []Outgoing {
	line := rep.Progress(ctx, msgStarting)

	res, err := m.searcher.Run(ctx, search.Request{Name: name, Locator: loc, Pattern: pattern}, func(p search.Progress) {
		if !p.Done {
			line.Update(progressText(p))
		}
	})
	if ctx.Err() != nil {
		line.Close(msgCancelled)
		return nil
	}
	if errors.Is(err, search.ErrValidation) {
		line.Close(msgSearchFailed)
		return []Outgoing{Text{Body: msgEmptyPattern}}
	}
	if err != nil {
		line.Close(msgSearchFailed)
		return []Outgoing{Text{Body: searchErrorText(name, err)}}
	}

	line.Close(completeText(res.Total))
	if res.Total == 0 {
		return []Outgoing{Text{Body: noResultsText(pattern, name)}}
	}
	return []Outgoing{Document{
		Data:     res.Bytes(),
		Filename: resultFilename("search_results_", pattern),
		Caption:  foundCaption(res, pattern, name),
	}}
}

// searchAll returns nil when ctx was cancelled.
func (m *Machine) searchAll(ctx context.Context, entries []registry.Entry, pattern string, rep Reporter) []Outgoing {
	rep.Send(ctx, Text{Body: searchingAllText(pattern, len(entries))})
	line := rep.Progress(ctx, msgStarting)

	sum, err := m.searcher.RunAll(ctx, entries, pattern, func(p search.Progress) {
		if !p.Done {
			line.Update(aggregateProgressText(p))
		}
	})
	if ctx.Err() != nil {
		line.Close(msgCancelled)
		return nil
	}
	if err != nil {
		line.Close(msgSearchFailed)
		return []Outgoing{Text{Body: msgEmptyPattern}}
	}

	line.Close(completeText(sum.Total))
	out := []Outgoing{Text{Body: summaryText(sum)}}
	if sum.Total == 0 {
		return append(out, Text{Body: noResultsAllText(sum.Pattern)})
	}
	return append(out, Document{
		Data:     sum.Result.Bytes(),
		Filename: resultFilename("search_all_", sum.Pattern),
		Caption:  foundAllCaption(sum.Result, sum.Total),
	})
}

type nopReporter struct{}

func (nopReporter) Send(context.Context, Outgoing) {}
func (nopReporter) Progress(context.Context, string) ProgressLine {
	return nopLine{}
}

type nopLine struct{}

func (nopLine) Update(string) {}
func (nopLine) Close(string)  {}
