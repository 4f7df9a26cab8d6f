// Package session keeps per-conversation state: an ordered history of turns
// and a mutex that serializes all processing for one session.
package session

import "sync"

// Role identifies who produced a history turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a session's conversation history.
type Turn struct {
	Role Role
	Text string
}

// Session holds the conversation history for one session id. The embedded
// mutex serializes the full retrieve-generate-append sequence: callers must
// hold it across every read-modify-write of the history.
type Session struct {
	mu      sync.Mutex
	id      string
	history []Turn
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Lock acquires the session's processing mutex.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session's processing mutex.
func (s *Session) Unlock() { s.mu.Unlock() }

// Append adds one turn to the history. The caller must hold the session lock.
func (s *Session) Append(role Role, text string) {
	s.history = append(s.history, Turn{Role: role, Text: text})
}

// History returns a copy of the conversation history. The caller must hold
// the session lock if it needs a consistent view against concurrent writers.
func (s *Session) History() []Turn {
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Store maps session ids to live sessions. Creation is guarded by a single
// store-level mutex so concurrent first-touches of the same id resolve to one
// Session rather than racing on map insertion.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for id, creating an empty one on first
// reference. Idempotent under concurrent calls.
func (s *Store) GetOrCreate(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{id: id}
		s.sessions[id] = sess
	}
	return sess
}

// History returns a copy of the history for id, or nil when the session has
// never been seen. Takes the session lock so it never observes a half-applied
// append from an in-flight request.
func (s *Store) History(id string) []Turn {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	sess.Lock()
	defer sess.Unlock()
	return sess.History()
}

// Clear removes the session record — history and lock — for id. Clear waits
// for any in-flight processing: it acquires the session lock before removing
// the record, so a concurrent request completes against pre-clear state and
// is never torn. A subsequent GetOrCreate starts a fresh, empty session.
func (s *Store) Clear(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	sess.Lock()
	defer sess.Unlock()

	s.mu.Lock()
	// Only delete if the map still holds the session we locked; a concurrent
	// Clear+GetOrCreate may have replaced it already.
	if cur, ok := s.sessions[id]; ok && cur == sess {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
