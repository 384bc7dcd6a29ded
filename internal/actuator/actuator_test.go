package actuator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var testMapping = Mapping{UserMax: 100, StatusMax: 1000, BrightnessScale: 1}

func TestMapping_Duty(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		channel Channel
		duty    uint16
	}{
		{"turn on", TurnOn{}, UserLED, 100},
		{"turn off", TurnOff{}, UserLED, 0},
		{"brightness zero", SetBrightness{Value: 0}, UserLED, 0},
		{"brightness mid", SetBrightness{Value: 40}, UserLED, 40},
		{"brightness clamps at user max", SetBrightness{Value: 255}, UserLED, 100},
		{"status half", SetDuty{Channel: StatusLED, Value: 500}, StatusLED, 500},
		{"status full", SetDuty{Channel: StatusLED, Value: 1000}, StatusLED, 1000},
		{"status clamps at status max", SetDuty{Channel: StatusLED, Value: 5000}, StatusLED, 1000},
		{"user raw duty clamps at user max", SetDuty{Channel: UserLED, Value: 500}, UserLED, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, duty, ok := testMapping.Duty(tt.cmd)
			require.True(t, ok)
			assert.Equal(t, tt.channel, ch)
			assert.Equal(t, tt.duty, duty)
		})
	}

	_, _, ok := testMapping.Duty(nil)
	assert.False(t, ok, "nil command MUST be rejected")
}

func TestMapping_FullSliderMatchesTurnOn(t *testing.T) {
	// GOAL: Verify each channel keeps its own full scale with the default configuration
	//
	// TEST SCENARIO: slider at 100 → same duty as TurnOn; status 500 and 1000 pass unclamped

	m := testMapping
	_, on, _ := m.Duty(TurnOn{})
	_, full, _ := m.Duty(SetBrightness{Value: 100})
	assert.Equal(t, on, full, "a full slider MUST drive the user LED like TurnOn")

	_, half, _ := m.Duty(SetDuty{Channel: StatusLED, Value: 500})
	_, top, _ := m.Duty(SetDuty{Channel: StatusLED, Value: 1000})
	assert.Equal(t, uint16(500), half, "status LED MUST keep its 0..1000 range")
	assert.Equal(t, uint16(1000), top)

	assert.Equal(t, uint16(100), m.Max(UserLED))
	assert.Equal(t, uint16(1000), m.Max(StatusLED))
}

func TestQueue_LatestWins(t *testing.T) {
	// GOAL: Verify a burst of commands collapses into the last one
	//
	// TEST SCENARIO: send TurnOn, TurnOff, SetBrightness(7) without a consumer → one Receive → SetBrightness(7)

	q := NewQueue()
	assert.False(t, q.Send(TurnOn{}))
	assert.True(t, q.Send(TurnOff{}))
	assert.True(t, q.Send(SetBrightness{Value: 7}))
	assert.True(t, q.Pending())

	cmd, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SetBrightness{Value: 7}, cmd, "MUST deliver only the most recent command")
	assert.False(t, q.Pending())
	assert.Equal(t, int64(2), q.Stats().Overwritten)
}

type TaskTestSuite struct {
	suite.Suite
	driver *Recorder
	user   *Queue
	status *Queue
	cancel context.CancelFunc
	done   chan error
}

func (suite *TaskTestSuite) SetupTest() {
	suite.driver = NewRecorder()
	suite.user = NewQueue()
	suite.status = NewQueue()

	task := NewTask(suite.driver, testMapping, suite.user, suite.status, nil)
	ctx, cancel := context.WithCancel(context.Background())
	suite.cancel = cancel
	suite.done = make(chan error, 1)
	go func() { suite.done <- task.Run(ctx) }()
}

func (suite *TaskTestSuite) TearDownTest() {
	suite.cancel()
	select {
	case err := <-suite.done:
		suite.Assert().ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		suite.Fail("task MUST stop on cancellation")
	}
}

func (suite *TaskTestSuite) waitFor(ch Channel, duty uint16) {
	suite.Require().Eventually(func() bool {
		got, ok := suite.driver.Last(ch)
		return ok && got == duty
	}, time.Second, time.Millisecond, "%s MUST reach duty %d", ch, duty)
}

func (suite *TaskTestSuite) TestAppliesUserCommands() {
	suite.user.Send(TurnOn{})
	suite.waitFor(UserLED, 100)

	suite.user.Send(SetBrightness{Value: 50})
	suite.waitFor(UserLED, 50)

	suite.user.Send(TurnOff{})
	suite.waitFor(UserLED, 0)
}

func (suite *TaskTestSuite) TestAppliesStatusCommands() {
	suite.status.Send(SetDuty{Channel: StatusLED, Value: 500})
	suite.waitFor(StatusLED, 500)

	_, ok := suite.driver.Last(UserLED)
	suite.Assert().False(ok, "status commands MUST NOT touch the user LED")
}

func TestTaskTestSuite(t *testing.T) {
	suite.Run(t, new(TaskTestSuite))
}

type failingDriver struct{}

func (failingDriver) SetDutyCycle(Channel, uint16) error { return errors.New("pwm fault") }

func TestTask_ApplyReportsDriverErrors(t *testing.T) {
	task := NewTask(failingDriver{}, testMapping, NewQueue(), nil, nil)
	err := task.Apply(TurnOn{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pwm fault")
}

func TestTask_DrainAppliesPendingCommands(t *testing.T) {
	rec := NewRecorder()
	user, status := NewQueue(), NewQueue()
	task := NewTask(rec, testMapping, user, status, nil)

	assert.Equal(t, 0, task.Drain())

	user.Send(TurnOn{})
	user.Send(SetBrightness{Value: 10})
	status.Send(SetDuty{Channel: StatusLED, Value: 500})

	assert.Equal(t, 2, task.Drain())
	duty, ok := rec.Last(UserLED)
	require.True(t, ok)
	assert.Equal(t, uint16(10), duty)
	duty, ok = rec.Last(StatusLED)
	require.True(t, ok)
	assert.Equal(t, uint16(500), duty)
	assert.Len(t, rec.Changes(), 2)
}
