// Package locstate holds the process-wide location session: the latest fix and the
// loading, error, watching and availability flags around it.
package locstate

import (
	"sync"
	"time"

	"farmai/internal/geo"
)

type State struct {
	Coordinates *geo.Coordinates
	Loading     bool
	Error       string
	Accuracy    string
	Watching    bool
	LastUpdated *time.Time
	Available   bool
}

// Store is safe for concurrent use. Subscribers are called after every transition, outside
// the lock, with the new snapshot.
type Store struct {
	mu    sync.Mutex
	state State
	subs  map[int]func(State)
	next  int
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{subs: map[int]func(State){}, now: time.Now}
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn and returns the function that removes it.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	s.next++
	id := s.next
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) apply(mutate func(*State)) {
	s.mu.Lock()
	mutate(&s.state)
	snap := s.state
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

// SetLoading enters or leaves loading. Entering clears the error.
func (s *Store) SetLoading(loading bool) {
	s.apply(func(st *State) {
		st.Loading = loading
		if loading {
			st.Error = ""
		}
	})
}

// SetError records a failure and ends loading. An empty msg clears the error.
func (s *Store) SetError(msg string) {
	s.apply(func(st *State) {
		st.Error = msg
		if msg != "" {
			st.Loading = false
		}
	})
}

// SetAvailable(false) clears coordinates, accuracy and last-updated together.
func (s *Store) SetAvailable(available bool) {
	s.apply(func(st *State) {
		if !available {
			st.Coordinates = nil
			st.Accuracy = ""
			st.LastUpdated = nil
			st.Available = false
			return
		}
		// availability without a fix is not representable
		st.Available = st.Coordinates != nil
	})
}

// Update stores a new fix. watching is applied only when non-nil.
func (s *Store) Update(c geo.Coordinates, accuracy string, watching *bool) {
	now := s.now()
	s.apply(func(st *State) {
		st.Coordinates = &c
		st.Accuracy = accuracy
		st.Available = true
		st.LastUpdated = &now
		st.Error = ""
		st.Loading = false
		if watching != nil {
			st.Watching = *watching
		}
	})
}

func (s *Store) SetWatching(watching bool) {
	s.apply(func(st *State) {
		st.Watching = watching
	})
}

// Clear resets every field.
func (s *Store) Clear() {
	s.apply(func(st *State) {
		*st = State{}
	})
}
