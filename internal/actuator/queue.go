package actuator

import (
	"context"

	"github.com/srg/blecap/internal/ringchan"
)

// Queue is a single-slot mailbox: Send never blocks and a newer command
// replaces one the consumer has not picked up yet.
type Queue struct {
	rc *ringchan.RingChannel[Command]
}

func NewQueue() *Queue {
	return &Queue{rc: ringchan.New[Command](1)}
}

// Send stores cmd and reports whether an unconsumed command was replaced.
func (q *Queue) Send(cmd Command) (replaced bool) {
	return q.rc.Send(cmd)
}

// Receive blocks until a command is available or ctx is done.
func (q *Queue) Receive(ctx context.Context) (Command, error) {
	return q.rc.Receive(ctx)
}

// TryReceive takes the pending command, if any, without blocking.
func (q *Queue) TryReceive() (Command, bool) {
	return q.rc.TryReceive()
}

// Pending reports whether a command is waiting.
func (q *Queue) Pending() bool {
	return q.rc.Len() > 0
}

func (q *Queue) Stats() ringchan.Stats {
	return q.rc.Stats()
}

func (q *Queue) c() <-chan Command {
	return q.rc.C()
}
