package actuator

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Driver sets the PWM compare value of an output.
type Driver interface {
	SetDutyCycle(ch Channel, duty uint16) error
}

// Change is one applied duty update.
type Change struct {
	Channel Channel
	Duty    uint16
}

// Recorder is an in-memory Driver that keeps every update.
type Recorder struct {
	mu      sync.Mutex
	changes []Change
	notify  chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) SetDutyCycle(ch Channel, duty uint16) error {
	r.mu.Lock()
	r.changes = append(r.changes, Change{Channel: ch, Duty: duty})
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// Changes returns a copy of all updates so far.
func (r *Recorder) Changes() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Change, len(r.changes))
	copy(out, r.changes)
	return out
}

// Last returns the most recent duty on ch.
func (r *Recorder) Last(ch Channel) (uint16, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.changes) - 1; i >= 0; i-- {
		if r.changes[i].Channel == ch {
			return r.changes[i].Duty, true
		}
	}
	return 0, false
}

// Updated fires (coalesced) after each SetDutyCycle.
func (r *Recorder) Updated() <-chan struct{} {
	return r.notify
}

// LogDriver reports duty updates through the logger; used when no PWM
// hardware is attached.
type LogDriver struct {
	Logger *logrus.Logger
}

func (d LogDriver) SetDutyCycle(ch Channel, duty uint16) error {
	d.Logger.WithFields(logrus.Fields{
		"channel": ch.String(),
		"value":   duty,
	}).Info("LED duty")
	return nil
}
