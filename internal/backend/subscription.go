package backend

import (
	"sync"
)

// BaseSubscription implements Subscription for feed adapters. The adapter
// runs its receive loop until Stopping is closed, then calls Finish.
type BaseSubscription struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewBaseSubscription returns a running subscription.
func NewBaseSubscription() *BaseSubscription {
	return &BaseSubscription{stop: make(chan struct{}), done: make(chan struct{})}
}

// Stopping is closed when Unsubscribe has been called.
func (s *BaseSubscription) Stopping() <-chan struct{} { return s.stop }

// Unsubscribe asks the receive loop to stop.
func (s *BaseSubscription) Unsubscribe() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Finish marks the stream ended with err. Errors after Unsubscribe are dropped.
func (s *BaseSubscription) Finish(err error) {
	s.doneOnce.Do(func() {
		select {
		case <-s.stop:
			err = nil
		default:
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// Done is closed once Finish has been called.
func (s *BaseSubscription) Done() <-chan struct{} { return s.done }

// Err reports why the stream ended.
func (s *BaseSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
