package game

import "sync"

// Signal is a fire-once broadcast gate. Any number of waiters can block on
// Done; the first Fire releases them all and later fires are no-ops. A fired
// signal is never reset.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal creates an unfired signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire releases every current and future waiter. Idempotent.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns a channel that is closed once the signal has fired.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Fired reports whether the signal has fired.
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
