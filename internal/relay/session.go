package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// historyLimit bounds stored conversation history to a sliding window of the
// most recent entries (25 completed turns). Generation requests additionally
// window to the last few entries, see defaultHistoryWindow in loop.go.
const historyLimit = 50

// Role tags a history entry as spoken by the user or the assistant.
type Role string

// History entry roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one turn half in the conversation transcript.
type HistoryEntry struct {
	Role Role
	Text string
}

// Credentials holds the per-session API keys supplied once in the client's
// configuration handshake. Empty fields mark absent capabilities.
type Credentials struct {
	Recognition string
	Generation  string
	Synthesis   string
	Lookup      string
}

// Capabilities reports which upstream engines a session can use. Each
// capability is independently present or absent; an absent capability
// degrades the session rather than failing it.
type Capabilities struct {
	Recognition bool
	Generation  bool
	Synthesis   bool
	Lookup      bool
}

// Capabilities derives the capability set from which credentials are
// present.
func (c Credentials) Capabilities() Capabilities {
	return Capabilities{
		Recognition: c.Recognition != "",
		Generation:  c.Generation != "",
		Synthesis:   c.Synthesis != "",
		Lookup:      c.Lookup != "",
	}
}

// Missing returns the names of absent capabilities, in a fixed order, for
// the degraded-mode report sent at session start.
func (c Capabilities) Missing() []string {
	var missing []string
	if !c.Recognition {
		missing = append(missing, "recognition")
	}
	if !c.Generation {
		missing = append(missing, "generation")
	}
	if !c.Synthesis {
		missing = append(missing, "synthesis")
	}
	if !c.Lookup {
		missing = append(missing, "lookup")
	}
	return missing
}

// Session is the per-connection conversation state: identity, credentials,
// capability flags and the bounded history transcript. One Session exists
// per client connection and is never shared between connections.
//
// All methods are safe for concurrent use.
type Session struct {
	id        string
	createdAt time.Time
	creds     Credentials
	caps      Capabilities

	mu      sync.Mutex
	history []HistoryEntry
	turns   int
	closed  bool
}

// NewSession creates a Session for one client connection. Credentials are
// immutable after construction.
func NewSession(creds Credentials) *Session {
	return &Session{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		creds:     creds,
		caps:      creds.Capabilities(),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session's creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Credentials returns the handshake credentials.
func (s *Session) Credentials() Credentials { return s.creds }

// Capabilities returns the capability set derived from the credentials.
func (s *Session) Capabilities() Capabilities { return s.caps }

// AppendTurn records one completed turn: the user utterance followed by the
// assistant reply. Older entries beyond the sliding window are evicted.
// Callers must skip this for turns whose final text is empty.
func (s *Session) AppendTurn(userText, assistantText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		HistoryEntry{Role: RoleUser, Text: userText},
		HistoryEntry{Role: RoleAssistant, Text: assistantText},
	)
	if over := len(s.history) - historyLimit; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
	s.turns++
}

// History returns a copy of the stored conversation transcript.
func (s *Session) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Window returns a copy of the most recent n history entries. It returns
// the full history when n is non-positive or exceeds the stored length.
func (s *Session) Window(n int) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if n > 0 && len(s.history) > n {
		start = len(s.history) - n
	}
	out := make([]HistoryEntry, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// Turns returns the number of completed turns recorded so far.
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// Close marks the session as torn down. Safe to call multiple times.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
