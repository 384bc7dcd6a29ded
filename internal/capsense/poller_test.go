package capsense

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blecap/internal/actuator"
)

type frameScript struct {
	mu     sync.Mutex
	frames [][]byte // nil entry = bus error
	pos    int
}

func (s *frameScript) ReadFrame(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.frames) {
		copy(buf, Encode(Idle()))
		return nil
	}
	f := s.frames[s.pos]
	s.pos++
	if f == nil {
		buf[0] = 0xee // partially filled
		return errors.New("timeout")
	}
	copy(buf, f)
	return nil
}

type countingWaker struct {
	mu     sync.Mutex
	raised int
}

func (w *countingWaker) Raise() {
	w.mu.Lock()
	w.raised++
	w.mu.Unlock()
}

func (w *countingWaker) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.raised
}

type PollerTestSuite struct {
	suite.Suite
	script *frameScript
	state  *State
	queue  *actuator.Queue
	waker  *countingWaker
	poller *Poller
}

func (suite *PollerTestSuite) SetupTest() {
	suite.script = &frameScript{}
	suite.state = NewState()
	suite.queue = actuator.NewQueue()
	suite.waker = &countingWaker{}
	suite.poller = NewPoller(PollerConfig{
		Reader:   suite.script,
		State:    suite.state,
		Commands: suite.queue,
		Waker:    suite.waker,
	})
}

func (suite *PollerTestSuite) TestEdgeDrivesCommandStateAndWake() {
	suite.script.frames = [][]byte{Encode(Reading{Button0: 1, Button1: Button1NotPressed})}

	fx, err := suite.poller.Poll()
	suite.Require().NoError(err)
	suite.Assert().True(fx.Changed())

	cmd, err := suite.queue.Receive(context.Background())
	suite.Require().NoError(err)
	suite.Assert().Equal(actuator.TurnOn{}, cmd)
	suite.Assert().Equal(StatusButton0, suite.state.Snapshot().ButtonStatus)
	suite.Assert().Equal(1, suite.waker.count())
}

func (suite *PollerTestSuite) TestBusErrorPublishesNothing() {
	// GOAL: Verify a failed frame neither publishes readings nor moves the baseline
	//
	// TEST SCENARIO: press → bus error → still pressed → no second edge, no extra wake

	pressed := Encode(Reading{Button0: 1, Button1: Button1NotPressed})
	suite.script.frames = [][]byte{pressed, nil, pressed}

	_, err := suite.poller.Poll()
	suite.Require().NoError(err)

	_, err = suite.poller.Poll()
	suite.Assert().ErrorIs(err, ErrBus)

	fx, err := suite.poller.Poll()
	suite.Require().NoError(err)
	suite.Assert().False(fx.Changed(), "held press across a bus error MUST NOT re-trigger")

	suite.Assert().Equal(1, suite.waker.count())
	stats := suite.poller.Stats()
	suite.Assert().Equal(int64(2), stats.Frames)
	suite.Assert().Equal(int64(1), stats.BusErrors)
	suite.Assert().Equal(int64(1), stats.Edges)
}

func (suite *PollerTestSuite) TestIdleFramesDoNothing() {
	for i := 0; i < 5; i++ {
		_, err := suite.poller.Poll()
		suite.Require().NoError(err)
	}
	suite.Assert().False(suite.queue.Pending())
	suite.Assert().Zero(suite.waker.count())
}

func (suite *PollerTestSuite) TestRunStopsOnCancel() {
	suite.script.frames = [][]byte{Encode(Reading{Button0: Button0NotPressed, Button1: Button1NotPressed, Slider: 33})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- suite.poller.Run(ctx) }()

	suite.Require().Eventually(func() bool {
		return suite.state.Snapshot().Slider == 33
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		suite.Assert().ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		suite.Fail("poller MUST stop on cancellation")
	}
}

func TestPollerTestSuite(t *testing.T) {
	suite.Run(t, new(PollerTestSuite))
}
