package mapstate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ErrClosed is returned by a Store whose client has gone away. Late async
// results (searches, clicks) hitting a closed store are discarded.
var ErrClosed = errors.New("map state closed")

// Store serializes actions for one client.
type Store struct {
	mu       sync.Mutex
	state    State
	closed   bool
	lastSeen time.Time
	clock    clockwork.Clock
}

// NewStore returns a store in the initial state.
func NewStore(clock clockwork.Clock) *Store {
	return &Store{
		state:    NewState(),
		clock:    clock,
		lastSeen: clock.Now(),
	}
}

// Dispatch validates and applies a, returning the resulting state.
func (s *Store) Dispatch(a Action) (State, error) {
	if err := Validate(a); err != nil {
		return State{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return State{}, ErrClosed
	}
	s.state = Reduce(s.state, a)
	s.lastSeen = s.clock.Now()
	return s.state.Clone(), nil
}

// State returns a copy of the current state.
func (s *Store) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return State{}, ErrClosed
	}
	s.lastSeen = s.clock.Now()
	return s.state.Clone(), nil
}

// Close tears the store down. Subsequent calls return ErrClosed.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Store) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Sessions tracks one Store per client and expires idle ones.
type Sessions struct {
	mu      sync.Mutex
	stores  map[string]*Store
	ttl     time.Duration
	clock   clockwork.Clock
	onClose []func(id string)
}

// NewSessions creates a registry whose sessions expire after ttl of inactivity.
func NewSessions(ttl time.Duration, clock clockwork.Clock) *Sessions {
	return &Sessions{
		stores: make(map[string]*Store),
		ttl:    ttl,
		clock:  clock,
	}
}

// OnClose registers fn to run after a session is deleted or expires.
func (s *Sessions) OnClose(fn func(id string)) {
	s.mu.Lock()
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// Create starts a new session.
func (s *Sessions) Create() (string, *Store) {
	id := uuid.NewString()
	store := NewStore(s.clock)

	s.mu.Lock()
	s.stores[id] = store
	s.mu.Unlock()

	return id, store
}

// Get returns the session's store. Expired sessions are removed and
// reported as missing.
func (s *Sessions) Get(id string) (*Store, bool) {
	s.mu.Lock()
	store, ok := s.stores[id]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	if s.expired(store) {
		s.Delete(id)
		return nil, false
	}
	return store, true
}

// Delete closes and removes a session. It reports whether it existed.
func (s *Sessions) Delete(id string) bool {
	s.mu.Lock()
	store, ok := s.stores[id]
	delete(s.stores, id)
	hooks := s.onClose
	s.mu.Unlock()

	if !ok {
		return false
	}
	store.Close()
	for _, fn := range hooks {
		fn(id)
	}
	return true
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stores)
}

// Sweep removes every expired session and returns how many it removed.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	var stale []string
	for id, store := range s.stores {
		if s.expired(store) {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		s.Delete(id)
	}
	return len(stale)
}

// RunJanitor sweeps expired sessions every interval until ctx is done.
func (s *Sessions) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Sweep()
		}
	}
}

func (s *Sessions) expired(store *Store) bool {
	return s.ttl > 0 && s.clock.Since(store.idleSince()) > s.ttl
}
