package link

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blecap/internal/actuator"
)

type fakeAdvertiser struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *fakeAdvertiser) StartAdvertising(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.err
}

type MachineTestSuite struct {
	suite.Suite
	adv    *fakeAdvertiser
	status *actuator.Queue
	halted []error
	m      *Machine
}

func (suite *MachineTestSuite) SetupTest() {
	suite.adv = &fakeAdvertiser{}
	suite.status = actuator.NewQueue()
	suite.halted = nil
	suite.m = NewMachine(Config{
		Advertiser: suite.adv,
		Status:     suite.status,
		Halt:       func(err error) { suite.halted = append(suite.halted, err) },
	})
}

func (suite *MachineTestSuite) TestConnectDisconnect() {
	suite.Run("connect records id and peer", func() {
		suite.Require().NoError(suite.m.OnConnected(0x40, "aa:bb:cc:dd:ee:ff"))

		suite.Assert().Equal(uint16(0x40), suite.m.ConnID())
		suite.Assert().True(suite.m.Connected())
		suite.Assert().Equal(Connected, suite.m.State())

		peer, ok := suite.m.Registry().Get(0x40)
		suite.Require().True(ok)
		suite.Assert().Equal("aa:bb:cc:dd:ee:ff", peer.Addr)
		suite.Assert().Equal(DefaultMTU, peer.MTU())
	})

	suite.Run("disconnect clears id and restarts advertising once", func() {
		// GOAL: Verify disconnect semantics
		//
		// TEST SCENARIO: connected → disconnect → connId 0 → exactly one advertising start

		before := suite.adv.calls
		suite.Require().NoError(suite.m.OnDisconnected(context.Background(), 0x40, "remote user terminated"))

		suite.Assert().Equal(uint16(0), suite.m.ConnID(), "connId MUST read 0 after disconnect")
		suite.Assert().False(suite.m.Connected())
		suite.Assert().Equal(Disconnected, suite.m.State())
		suite.Assert().Equal(before+1, suite.adv.calls, "advertising MUST restart exactly once per disconnect")
		suite.Assert().Zero(suite.m.Registry().Len())
		suite.Assert().Empty(suite.halted)
	})

	suite.Run("zero connection id rejected", func() {
		suite.Assert().ErrorIs(suite.m.OnConnected(0, "x"), ErrInvalidConnID)
		suite.Assert().False(suite.m.Connected())
	})
}

func (suite *MachineTestSuite) TestRestartFailureHalts() {
	// GOAL: Verify advertising restart failure is fatal
	//
	// TEST SCENARIO: advertiser fails → disconnect → ErrAdvertisingRestartFailed → halt invoked once

	suite.adv.err = errors.New("controller busy")
	suite.Require().NoError(suite.m.OnConnected(1, "peer"))

	err := suite.m.OnDisconnected(context.Background(), 1, "timeout")
	suite.Assert().ErrorIs(err, ErrAdvertisingRestartFailed)
	suite.Require().Len(suite.halted, 1)
	suite.Assert().ErrorIs(suite.halted[0], ErrAdvertisingRestartFailed)
	suite.Assert().Equal(uint16(0), suite.m.ConnID())
}

func (suite *MachineTestSuite) TestStart() {
	suite.Require().NoError(suite.m.Start(context.Background()))
	suite.Assert().Equal(1, suite.adv.calls)
	suite.Assert().Equal(int64(1), suite.m.AdvertisingStarts())

	suite.adv.err = errors.New("no radio")
	suite.Assert().ErrorIs(suite.m.Start(context.Background()), ErrAdvertisingRestartFailed)
	suite.Assert().Len(suite.halted, 1)
}

func (suite *MachineTestSuite) TestAdvertisingStateDrivesStatusLED() {
	tests := []struct {
		state State
		duty  uint16
	}{
		{AdvertisingHigh, StatusDutyHalf},
		{AdvertisingLow, StatusDutyHalf},
		{AdvertisingOff, StatusDutyFull},
	}

	for _, tt := range tests {
		suite.Run(tt.state.String(), func() {
			suite.m.OnAdvertisingState(tt.state)

			cmd, err := suite.status.Receive(context.Background())
			suite.Require().NoError(err)
			suite.Assert().Equal(actuator.SetDuty{Channel: actuator.StatusLED, Value: tt.duty}, cmd)
			suite.Assert().Equal(tt.state, suite.m.State())
		})
	}

	suite.Run("connected state survives advertising off", func() {
		suite.Require().NoError(suite.m.OnConnected(7, "peer"))
		suite.m.OnAdvertisingState(AdvertisingOff)
		suite.Assert().Equal(Connected, suite.m.State())
	})

	suite.Run("non-advertising state ignored", func() {
		_, _ = suite.status.Receive(context.Background())
		suite.m.OnAdvertisingState(Connected)
		suite.Assert().False(suite.status.Pending())
	})
}

func TestMachineTestSuite(t *testing.T) {
	suite.Run(t, new(MachineTestSuite))
}

func TestParseAdvertising(t *testing.T) {
	for in, want := range map[string]State{"high": AdvertisingHigh, "low": AdvertisingLow, "off": AdvertisingOff} {
		got, err := ParseAdvertising(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseAdvertising("directed")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	p := r.Add(2, "b")
	r.Add(1, "a")
	assert.Same(t, p, r.Add(2, "again"), "duplicate add MUST return the existing peer")

	p.SetMTU(185)
	assert.Equal(t, 185, r.MTU(2))
	assert.Equal(t, DefaultMTU, r.MTU(99))

	peers := r.Peers()
	assert.Len(t, peers, 2)
	assert.Equal(t, uint16(1), peers[0].ConnID)

	assert.True(t, r.Remove(2))
	assert.False(t, r.Remove(2))
	assert.Equal(t, 1, r.Len())
}
