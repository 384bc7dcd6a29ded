// Package notify pushes characteristic values to a subscribed client when
// the sensor reports a change.
package notify

import "context"

// Signal is a coalescing wakeup: any number of Raise calls between two
// waits produce a single wake.
type Signal struct {
	ch chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Raise never blocks.
func (s *Signal) Raise() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until raised or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryWait consumes an outstanding wake without blocking.
func (s *Signal) TryWait() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Pending reports whether a wake is outstanding.
func (s *Signal) Pending() bool {
	return len(s.ch) > 0
}
