// Package peripheral assembles the sensor poller, LED actuators, attribute
// server and link state machine into one device and runs them as a task
// group.
package peripheral

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecap/internal/actuator"
	"github.com/srg/blecap/internal/att"
	"github.com/srg/blecap/internal/attr"
	"github.com/srg/blecap/internal/bearer"
	"github.com/srg/blecap/internal/capsense"
	"github.com/srg/blecap/internal/gattdb"
	"github.com/srg/blecap/internal/groutine"
	"github.com/srg/blecap/internal/link"
	"github.com/srg/blecap/internal/notify"
	"github.com/srg/blecap/internal/server"
	"github.com/srg/blecap/pkg/config"
)

var ErrMissingDependency = errors.New("missing peripheral dependency")

// Link carries PDUs to the client, starts advertising and feeds link events
// into a sink until its context ends. *bearer.Bearer is the production Link.
type Link interface {
	server.Transport
	link.Advertiser
	Run(ctx context.Context, sink bearer.Sink) error
}

// Options wires a Peripheral. Config and Logger are optional.
type Options struct {
	Config *config.Config
	Sensor capsense.FrameReader
	Link   Link
	LED    actuator.Driver
	Logger *logrus.Logger

	// Stepped leaves the poller, actuator and notify tasks stopped; the
	// caller drives them with Poll and Settle.
	Stepped bool
}

// Stats aggregates the component counters.
type Stats struct {
	Poller        capsense.PollerStats
	Handler       att.HandlerStats
	Notifier      notify.NotifierStats
	BuffersInUse  int
	AdvertStarts  int64
	ActiveClients int
}

// Peripheral is a fully wired device.
type Peripheral struct {
	cfg     *config.Config
	logger  *logrus.Logger
	stepped bool

	link     Link
	store    *attr.Store
	state    *capsense.State
	poller   *capsense.Poller
	leds     *actuator.Task
	machine  *link.Machine
	notifier *notify.Notifier
	notify   *notify.Task
	handler  *att.Handler
	pool     *att.Pool
	server   *server.Server

	halted chan error
}

func New(opts Options) (*Peripheral, error) {
	switch {
	case opts.Sensor == nil:
		return nil, fmt.Errorf("%w: sensor", ErrMissingDependency)
	case opts.Link == nil:
		return nil, fmt.Errorf("%w: link", ErrMissingDependency)
	case opts.LED == nil:
		return nil, fmt.Errorf("%w: led driver", ErrMissingDependency)
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	store, err := gattdb.New(cfg.DeviceName)
	if err != nil {
		return nil, err
	}

	p := &Peripheral{
		cfg:     cfg,
		logger:  logger,
		stepped: opts.Stepped,
		link:    opts.Link,
		store:   store,
		state:   capsense.NewState(),
		pool:    att.NewPool(cfg.ATT.BufferBudget),
		halted:  make(chan error, 1),
	}

	userLED, statusLED := actuator.NewQueue(), actuator.NewQueue()
	mapping := actuator.Mapping{
		UserMax:         cfg.LED.UserMaxDuty,
		StatusMax:       cfg.LED.StatusMaxDuty,
		BrightnessScale: cfg.LED.BrightnessScale,
	}
	p.leds = actuator.NewTask(opts.LED, mapping, userLED, statusLED, logger)

	registry := link.NewRegistry()
	p.machine = link.NewMachine(link.Config{
		Registry:   registry,
		Advertiser: opts.Link,
		Status:     statusLED,
		Halt:       p.halt,
		Logger:     logger,
	})

	wake := notify.NewSignal()
	p.notifier = notify.NewNotifier(store, p.state, p.machine, server.NewPusher(opts.Link, registry), logger)
	p.notify = notify.NewTask(wake, p.notifier, cfg.Notify.SettleDelay, logger)

	p.poller = capsense.NewPoller(capsense.PollerConfig{
		Reader:    opts.Sensor,
		FrameSize: cfg.Sensor.FrameSize,
		Interval:  cfg.Sensor.PollInterval,
		State:     p.state,
		Commands:  userLED,
		Waker:     wake,
		Logger:    logger,
	})

	p.handler = att.NewHandler(att.Config{
		Store:     store,
		Registry:  registry,
		Pool:      p.pool,
		Sender:    opts.Link,
		Refresher: p.notifier,
		Trigger:   p.notifier,
		State:     p.state,
		MaxMTU:    cfg.ATT.MaxMTU,
		Logger:    logger,
	})
	p.server = server.New(p.handler, p.machine, logger)
	return p, nil
}

func (p *Peripheral) halt(err error) {
	select {
	case p.halted <- err:
	default:
	}
}

// Run starts advertising and every task, and blocks until ctx ends or a
// task fails. A failed advertising restart stops the device with
// link.ErrAdvertisingRestartFailed.
func (p *Peripheral) Run(ctx context.Context) error {
	g := groutine.NewGroup(ctx, p.logger)

	g.Go("link", func(ctx context.Context) error {
		return p.link.Run(ctx, p.server)
	})
	g.Go("halt-watch", func(ctx context.Context) error {
		select {
		case err := <-p.halted:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if !p.stepped {
		g.Go("actuator", p.leds.Run)
		g.Go("notify", p.notify.Run)
		g.Go("poller", p.poller.Run)
	}

	p.logger.WithFields(logrus.Fields{
		"name":    p.cfg.DeviceName,
		"stepped": p.stepped,
	}).Info("Peripheral starting")

	if err := p.machine.Start(g.Context()); err != nil {
		g.Cancel()
		_ = g.Wait()
		return err
	}

	err := g.Wait()
	p.logger.WithError(err).Info("Peripheral stopped")
	return err
}

// Handle injects a link event as if it came from the link.
func (p *Peripheral) Handle(ctx context.Context, ev server.Event) error {
	return p.server.Handle(ctx, ev)
}

// Poll runs one sensor cycle.
func (p *Peripheral) Poll() (capsense.Effects, error) {
	return p.poller.Poll()
}

// Settle applies pending LED commands and runs an outstanding
// notification pass. It is meant for stepped peripherals.
func (p *Peripheral) Settle() (leds, notifications int) {
	return p.leds.Drain(), p.notify.Flush()
}

func (p *Peripheral) Store() *attr.Store          { return p.store }
func (p *Peripheral) Snapshot() capsense.Snapshot { return p.state.Snapshot() }
func (p *Peripheral) Machine() *link.Machine      { return p.machine }

func (p *Peripheral) Stats() Stats {
	return Stats{
		Poller:        p.poller.Stats(),
		Handler:       p.handler.Stats(),
		Notifier:      p.notifier.Stats(),
		BuffersInUse:  p.pool.InUse(),
		AdvertStarts:  p.machine.AdvertisingStarts(),
		ActiveClients: p.machine.Registry().Len(),
	}
}
