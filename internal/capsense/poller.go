package capsense

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecap/internal/actuator"
)

// CommandSink accepts LED commands without blocking.
type CommandSink interface {
	Send(cmd actuator.Command) bool
}

// Waker requests a notification pass.
type Waker interface {
	Raise()
}

// PollerStats counts poll outcomes.
type PollerStats struct {
	Frames    int64
	BusErrors int64
	Edges     int64
}

// Poller repeatedly reads frames and turns edges into LED commands, state
// updates and notification wakeups.
type Poller struct {
	reader    FrameReader
	frameSize int
	interval  time.Duration
	detector  *Detector
	state     *State
	commands  CommandSink
	waker     Waker
	logger    *logrus.Logger

	frames    atomic.Int64
	busErrors atomic.Int64
	edges     atomic.Int64
}

// PollerConfig groups the Poller collaborators.
type PollerConfig struct {
	Reader    FrameReader
	FrameSize int
	Interval  time.Duration
	State     *State
	Commands  CommandSink
	Waker     Waker
	Logger    *logrus.Logger
}

func NewPoller(cfg PollerConfig) *Poller {
	if cfg.FrameSize < FrameSize {
		cfg.FrameSize = FrameSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetLevel(logrus.PanicLevel)
	}
	return &Poller{
		reader:    cfg.Reader,
		frameSize: cfg.FrameSize,
		interval:  cfg.Interval,
		detector:  NewDetector(),
		state:     cfg.State,
		commands:  cfg.Commands,
		waker:     cfg.Waker,
		logger:    cfg.Logger,
	}
}

// Poll runs a single cycle. A failed read leaves the detector baseline and
// the shared state untouched and is returned wrapped in ErrBus.
func (p *Poller) Poll() (Effects, error) {
	buf := make([]byte, p.frameSize)
	if err := p.reader.ReadFrame(buf); err != nil {
		p.busErrors.Add(1)
		if !errors.Is(err, ErrBus) {
			err = errors.Join(ErrBus, err)
		}
		return Effects{}, err
	}
	p.frames.Add(1)

	r, err := Decode(buf)
	if err != nil {
		p.busErrors.Add(1)
		return Effects{}, errors.Join(ErrBus, err)
	}

	fx := p.detector.Update(r)
	if !fx.Changed() {
		return fx, nil
	}
	p.edges.Add(1)

	p.logger.WithFields(logrus.Fields{
		"button0": r.Button0,
		"button1": r.Button1,
		"slider":  r.Slider,
		"command": fx.Command.String(),
	}).Debug("Touch input changed")

	p.state.Apply(fx)
	if p.commands != nil {
		p.commands.Send(fx.Command)
	}
	if p.waker != nil {
		p.waker.Raise()
	}
	return fx, nil
}

// Run polls until ctx is done. Bus errors are routine (the controller may
// be busy) and only logged at debug level.
func (p *Poller) Run(ctx context.Context) error {
	var tick *time.Ticker
	if p.interval > 0 {
		tick = time.NewTicker(p.interval)
		defer tick.Stop()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := p.Poll(); err != nil {
			p.logger.WithError(err).Debug("Sensor read failed")
		}

		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick.C:
			}
		}
	}
}

func (p *Poller) Stats() PollerStats {
	return PollerStats{
		Frames:    p.frames.Load(),
		BusErrors: p.busErrors.Load(),
		Edges:     p.edges.Load(),
	}
}
