// ABOUTME: In-memory, session-keyed store of conversation state
// ABOUTME: Serializes access per session without a global lock around handlers

package session

import "sync"

type entry struct {
	mu    sync.Mutex
	state State
}

// Store holds one State per session ID. Sessions are created lazily on first
// access and live for the process lifetime.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*entry)}
}

func (s *Store) entry(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		e = &entry{}
		s.sessions[id] = e
	}
	return e
}

// Do runs fn with exclusive access to the session's state. Calls for
// different sessions do not block each other; fn must not call Do for the
// same session.
func (s *Store) Do(id string, fn func(st *State) error) error {
	e := s.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&e.state)
}

// Snapshot returns a copy of the session's state.
func (s *Store) Snapshot(id string) State {
	var out State
	_ = s.Do(id, func(st *State) error {
		out = *st
		return nil
	})
	return out
}

// Len returns the number of sessions seen so far.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
