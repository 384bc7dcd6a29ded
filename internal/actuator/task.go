package actuator

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Task applies queued commands to the driver. It serves two queues: the
// user queue fed by the sensor poller and the status queue fed by the
// connection state machine.
type Task struct {
	driver  Driver
	mapping Mapping
	user    *Queue
	status  *Queue
	logger  *logrus.Logger
}

// NewTask creates a Task. status may be nil.
func NewTask(driver Driver, mapping Mapping, user, status *Queue, logger *logrus.Logger) *Task {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	return &Task{
		driver:  driver,
		mapping: mapping,
		user:    user,
		status:  status,
		logger:  logger,
	}
}

// Run blocks on the queues until ctx is done.
func (t *Task) Run(ctx context.Context) error {
	var statusC <-chan Command
	if t.status != nil {
		statusC = t.status.c()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-t.user.c():
			t.handle(cmd)
		case cmd := <-statusC:
			t.handle(cmd)
		}
	}
}

// Drain applies whatever is pending on both queues without blocking and
// returns the number of commands applied. It serves callers that step the
// device by hand instead of running the task.
func (t *Task) Drain() int {
	applied := 0
	for _, q := range []*Queue{t.user, t.status} {
		if q == nil {
			continue
		}
		if cmd, ok := q.TryReceive(); ok {
			t.handle(cmd)
			applied++
		}
	}
	return applied
}

func (t *Task) handle(cmd Command) {
	if err := t.Apply(cmd); err != nil {
		t.logger.WithError(err).WithField("command", cmd.String()).Warn("Failed to apply LED command")
	}
}

// Apply maps a single command to a duty update.
func (t *Task) Apply(cmd Command) error {
	ch, duty, ok := t.mapping.Duty(cmd)
	if !ok {
		t.logger.WithField("command", fmt.Sprintf("%T", cmd)).Debug("Ignoring unknown LED command")
		return nil
	}

	t.logger.WithFields(logrus.Fields{
		"command": cmd.String(),
		"channel": ch.String(),
		"value":   duty,
	}).Debug("Applying LED command")

	if err := t.driver.SetDutyCycle(ch, duty); err != nil {
		return fmt.Errorf("set %s duty %d: %w", ch, duty, err)
	}
	return nil
}
