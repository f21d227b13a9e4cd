// Package session holds per-chat conversational state and the state machine
// that routes user input to the search engine.
package session

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/linescout/internal/registry"
	"github.com/nextlevelbuilder/linescout/internal/source"
)

// State is the conversational state of a session.
type State interface{ stateName() string }

// Idle waits for a menu choice.
type Idle struct{}

// AwaitingURL waits for a URL (or an upload).
type AwaitingURL struct{}

// AwaitingFilename waits for the name to register Pending under.
type AwaitingFilename struct {
	Pending source.Locator
}

// AwaitingDomain waits for the pattern to search Target with.
type AwaitingDomain struct {
	Target string
}

// AwaitingDomainAll waits for the pattern to search every resource with.
type AwaitingDomainAll struct{}

func (Idle) stateName() string              { return "idle" }
func (AwaitingURL) stateName() string       { return "awaiting_url" }
func (AwaitingFilename) stateName() string  { return "awaiting_filename" }
func (AwaitingDomain) stateName() string    { return "awaiting_domain" }
func (AwaitingDomainAll) stateName() string { return "awaiting_domain_all" }

// StateName returns a stable name for logs.
func StateName(s State) string {
	if s == nil {
		return "none"
	}
	return s.stateName()
}

// Session is one chat's state and registered resources. It is only touched
// by runs for its own chat, which the scheduler serializes.
type Session struct {
	ID        string
	State     State
	Links     *registry.Registry
	CreatedAt time.Time
}

func newSession(id string) *Session {
	return &Session{
		ID:        id,
		State:     Idle{},
		Links:     registry.New(),
		CreatedAt: time.Now(),
	}
}

// Store maps session IDs to sessions. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Get returns the session for id, creating it on first contact.
func (st *Store) Get(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		s = newSession(id)
		st.sessions[id] = s
	}
	return s
}

// Reset replaces the session for id with a fresh one.
func (st *Store) Reset(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := newSession(id)
	st.sessions[id] = s
	return s
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
