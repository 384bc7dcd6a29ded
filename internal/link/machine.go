// Package link tracks the advertising and connection lifecycle and drives
// the status LED from it.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecap/internal/actuator"
)

var (
	ErrAdvertisingRestartFailed = errors.New("advertising restart failed")
	ErrInvalidConnID            = errors.New("connection id must be non-zero")
)

// State of the link.
type State int

const (
	Disconnected State = iota
	AdvertisingHigh
	AdvertisingLow
	AdvertisingOff
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case AdvertisingHigh:
		return "advertising-high"
	case AdvertisingLow:
		return "advertising-low"
	case AdvertisingOff:
		return "advertising-off"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseAdvertising maps "high", "low" and "off" to advertising states.
func ParseAdvertising(s string) (State, error) {
	switch s {
	case "high":
		return AdvertisingHigh, nil
	case "low":
		return AdvertisingLow, nil
	case "off":
		return AdvertisingOff, nil
	default:
		return Disconnected, fmt.Errorf("unknown advertising state %q", s)
	}
}

// Status LED duty values.
const (
	StatusDutyFull uint16 = 1000
	StatusDutyHalf uint16 = 500
)

// Advertiser (re)starts undirected high-duty advertising.
type Advertiser interface {
	StartAdvertising(ctx context.Context) error
}

// HaltFunc is invoked when the device can no longer be discovered.
type HaltFunc func(err error)

// StatusSink receives status LED commands.
type StatusSink interface {
	Send(cmd actuator.Command) bool
}

// Machine is the connection state machine.
type Machine struct {
	mu    sync.Mutex
	state State

	connID     atomic.Uint32
	registry   *Registry
	advertiser Advertiser
	status     StatusSink
	halt       HaltFunc
	logger     *logrus.Logger

	restarts atomic.Int64
}

// Config groups the Machine collaborators. Status and Halt are optional.
type Config struct {
	Registry   *Registry
	Advertiser Advertiser
	Status     StatusSink
	Halt       HaltFunc
	Logger     *logrus.Logger
}

func NewMachine(cfg Config) *Machine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetLevel(logrus.PanicLevel)
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	logger := cfg.Logger
	if cfg.Halt == nil {
		cfg.Halt = func(err error) {
			logger.WithError(err).Fatal("Device halted")
		}
	}
	return &Machine{
		state:      Disconnected,
		registry:   cfg.Registry,
		advertiser: cfg.Advertiser,
		status:     cfg.Status,
		halt:       cfg.Halt,
		logger:     cfg.Logger,
	}
}

// Start begins advertising. Failure is fatal.
func (m *Machine) Start(ctx context.Context) error {
	return m.advertise(ctx)
}

// OnAdvertisingState records an advertising sub-state change and updates
// the status LED: solid when advertising stops, half when advertising.
func (m *Machine) OnAdvertisingState(s State) {
	var duty uint16
	switch s {
	case AdvertisingOff:
		duty = StatusDutyFull
	case AdvertisingHigh, AdvertisingLow:
		duty = StatusDutyHalf
	default:
		m.logger.WithField("state", s.String()).Warn("Ignoring non-advertising state")
		return
	}

	m.mu.Lock()
	prev := m.state
	if prev != Connected {
		m.state = s
	}
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"state": s.String(),
		"from":  prev.String(),
	}).Info("Advertising state changed")

	if m.status != nil {
		m.status.Send(actuator.SetDuty{Channel: actuator.StatusLED, Value: duty})
	}
}

// OnConnected records the connection.
func (m *Machine) OnConnected(connID uint16, addr string) error {
	if connID == 0 {
		return ErrInvalidConnID
	}

	m.mu.Lock()
	m.state = Connected
	m.connID.Store(uint32(connID))
	m.mu.Unlock()

	m.registry.Add(connID, addr)
	m.logger.WithFields(logrus.Fields{
		"conn_id": connID,
		"addr":    addr,
	}).Info("Connected")
	return nil
}

// OnDisconnected clears the connection id and restarts advertising. A
// failed restart halts the device and is also returned.
func (m *Machine) OnDisconnected(ctx context.Context, connID uint16, reason string) error {
	m.mu.Lock()
	m.state = Disconnected
	m.connID.Store(0)
	m.mu.Unlock()

	m.registry.Remove(connID)
	m.logger.WithFields(logrus.Fields{
		"conn_id": connID,
		"reason":  reason,
	}).Info("Disconnected")

	return m.advertise(ctx)
}

func (m *Machine) advertise(ctx context.Context) error {
	m.restarts.Add(1)
	if err := m.advertiser.StartAdvertising(ctx); err != nil {
		err = fmt.Errorf("%w: %w", ErrAdvertisingRestartFailed, err)
		m.logger.WithError(err).Error("Unable to start advertising")
		m.halt(err)
		return err
	}
	return nil
}

// ConnID is the active connection id, 0 when disconnected.
func (m *Machine) ConnID() uint16 {
	return uint16(m.connID.Load())
}

func (m *Machine) Connected() bool {
	return m.connID.Load() != 0
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AdvertisingStarts counts advertising start attempts, including the first.
func (m *Machine) AdvertisingStarts() int64 {
	return m.restarts.Load()
}

func (m *Machine) Registry() *Registry {
	return m.registry
}

// AdvertiserFunc adapts a function to Advertiser.
type AdvertiserFunc func(ctx context.Context) error

func (f AdvertiserFunc) StartAdvertising(ctx context.Context) error {
	return f(ctx)
}
