// Package session holds ephemeral per-call state for ongoing voice
// conversations. Entries are keyed by the voice platform's call ID and
// live only until the end-of-call report arrives (or the process exits);
// everything durable belongs in the store, not here.
package session

import (
	"maps"
	"sync"
)

// State is the handler-defined state blob attached to one call.
type State map[string]any

// Store is a process-wide map from call ID to session state. Same-key
// updates are serialized so a delayed duplicate webhook delivery cannot
// clobber newer state with a stale snapshot; distinct keys never contend
// beyond the map lock itself.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu    sync.Mutex
	state State
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Get returns a copy of the state for callID, or an empty State if the
// call has no entry yet.
func (s *Store) Get(callID string) State {
	s.mu.Lock()
	e, ok := s.entries[callID]
	s.mu.Unlock()
	if !ok {
		return State{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.state)
}

// Set replaces the state for callID.
func (s *Store) Set(callID string, state State) {
	e := s.entry(callID)
	e.mu.Lock()
	e.state = maps.Clone(state)
	e.mu.Unlock()
}

// Delete removes the entry for callID. Deleting a missing entry is a
// no-op.
func (s *Store) Delete(callID string) {
	s.mu.Lock()
	delete(s.entries, callID)
	s.mu.Unlock()
}

// Update runs fn while holding the per-call lock, passing a copy of the
// current state and storing whatever fn returns. All webhook batches for
// one call go through here, so two deliveries for the same call ID can
// never interleave their read-modify-write cycles.
func (s *Store) Update(callID string, fn func(State) State) {
	e := s.entry(callID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = fn(maps.Clone(e.state))
}

func (s *Store) entry(callID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[callID]
	if !ok {
		e = &entry{state: State{}}
		s.entries[callID] = e
	}
	return e
}
