// Package ringchan provides a bounded channel whose producers never block:
// when the buffer is full the oldest element is discarded.
package ringchan

import (
	"context"
	"sync/atomic"
)

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// With capacity 1 it is a latest-wins mailbox: a consumer that wakes up late
// sees only the most recent value.
//
//	rc := ringchan.New[int](1)
//	rc.Send(1)
//	rc.Send(2)        // 1 is discarded
//	v, _ := rc.Receive(ctx) // v == 2
//
// Readers may also select on C(); such reads bypass the Processed counter.
type RingChannel[T any] struct {
	ch      chan T
	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest buffered value while the buffer is
// full. It never blocks and reports whether anything was discarded.
// Safe for concurrent producers.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	for {
		select {
		case rc.ch <- v:
			rc.metrics.Written.Add(1)
			return dropped
		default:
		}

		// full: make room, then retry; another producer may win the slot
		select {
		case <-rc.ch:
			rc.metrics.Overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// TrySend inserts v only if there is room.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		rc.metrics.Written.Add(1)
		return true
	default:
		return false
	}
}

// Receive blocks until a value is available or ctx is done.
func (rc *RingChannel[T]) Receive(ctx context.Context) (T, error) {
	select {
	case v := <-rc.ch:
		rc.metrics.Processed.Add(1)
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryReceive attempts a non-blocking receive.
func (rc *RingChannel[T]) TryReceive() (T, bool) {
	select {
	case v := <-rc.ch:
		rc.metrics.Processed.Add(1)
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Stats returns a snapshot of the counters.
func (rc *RingChannel[T]) Stats() Stats {
	return Stats{
		Processed:   rc.metrics.Processed.Load(),
		Written:     rc.metrics.Written.Load(),
		Overwritten: rc.metrics.Overwritten.Load(),
	}
}

// Metrics are updated lock-free by producers and consumers.
type Metrics struct {
	Processed   atomic.Int64
	Written     atomic.Int64
	Overwritten atomic.Int64
}

// Stats is a point-in-time copy of Metrics.
type Stats struct {
	Processed   int64
	Written     int64
	Overwritten int64
}
