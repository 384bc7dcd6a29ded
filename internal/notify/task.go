package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Task waits on the signal and runs a notification pass per wake.
type Task struct {
	signal   *Signal
	notifier *Notifier
	settle   time.Duration
	logger   *logrus.Logger
}

// NewTask creates a Task. settle is the pause after each pass.
func NewTask(signal *Signal, notifier *Notifier, settle time.Duration, logger *logrus.Logger) *Task {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	return &Task{signal: signal, notifier: notifier, settle: settle, logger: logger}
}

func (t *Task) Run(ctx context.Context) error {
	for {
		if err := t.signal.Wait(ctx); err != nil {
			return err
		}

		sent := t.notifier.NotifyAll()
		t.logger.WithField("sent", sent).Debug("Notification pass complete")

		if t.settle > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.settle):
			}
		}
	}
}

// Flush runs one notification pass if a wake is outstanding and returns the
// number of notifications sent.
func (t *Task) Flush() int {
	if !t.signal.TryWait() {
		return 0
	}
	return t.notifier.NotifyAll()
}
