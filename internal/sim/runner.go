package sim

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecap/internal/actuator"
	"github.com/srg/blecap/internal/bearer"
	"github.com/srg/blecap/internal/capsense"
	"github.com/srg/blecap/internal/link"
	"github.com/srg/blecap/internal/peripheral"
	"github.com/srg/blecap/internal/server"
	"github.com/srg/blecap/pkg/config"
)

var ErrStartTimeout = errors.New("peripheral did not start advertising")

const startTimeout = 2 * time.Second

// Mismatch is a failed expectation.
type Mismatch struct {
	Step     int
	Kind     string
	Expected []string
	Actual   []string
}

// Diff renders the mismatch as a unified diff, one PDU or duty per line.
func (m Mismatch) Diff() string {
	expected := strings.Join(m.Expected, "\n") + "\n"
	actual := strings.Join(m.Actual, "\n") + "\n"
	edits := myers.ComputeEdits("", expected, actual)
	return fmt.Sprint(gotextdiff.ToUnified("expected", "actual", expected, edits))
}

// Report is the outcome of a replay.
type Report struct {
	Scenario   string
	Transcript []string
	Mismatches []Mismatch
	Stats      peripheral.Stats
}

func (r *Report) OK() bool { return len(r.Mismatches) == 0 }

// Failure describes every mismatch, or returns "" when the replay passed.
func (r *Report) Failure() string {
	if r.OK() {
		return ""
	}
	var b strings.Builder
	for _, m := range r.Mismatches {
		fmt.Fprintf(&b, "step %d (%s) mismatch:\n%s", m.Step, m.Kind, m.Diff())
	}
	return b.String()
}

// captureLink records outbound PDUs and completes every send at once.
type captureLink struct {
	mu         sync.Mutex
	out        []string
	advertised chan struct{}
}

func newCaptureLink() *captureLink {
	return &captureLink{advertised: make(chan struct{}, 1)}
}

func (l *captureLink) Send(_ uint16, pdu []byte, done func()) error {
	l.mu.Lock()
	l.out = append(l.out, hex.EncodeToString(pdu))
	l.mu.Unlock()
	if done != nil {
		done()
	}
	return nil
}

func (l *captureLink) StartAdvertising(context.Context) error {
	select {
	case l.advertised <- struct{}{}:
	default:
	}
	return nil
}

func (l *captureLink) Run(ctx context.Context, _ bearer.Sink) error {
	<-ctx.Done()
	return ctx.Err()
}

func (l *captureLink) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.out
	l.out = nil
	return out
}

// Runner replays scenarios. Each Run uses a fresh peripheral.
type Runner struct {
	cfg    *config.Config
	logger *logrus.Logger
}

func NewRunner(cfg *config.Config, logger *logrus.Logger) *Runner {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Runner{cfg: cfg, logger: logger}
}

type replay struct {
	sc     *Scenario
	dev    *peripheral.Peripheral
	bus    *ScriptBus
	link   *captureLink
	leds   *actuator.Recorder
	logger *logrus.Logger

	ledSeen   int
	unchecked []string
	report    *Report
}

// Run drives sc step by step. Expectation failures are collected in the
// report; the error is reserved for replays that could not run at all.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	bus := NewScriptBus(r.cfg.Sensor.Address, false)
	rp := &replay{
		sc:     sc,
		bus:    bus,
		link:   newCaptureLink(),
		leds:   actuator.NewRecorder(),
		logger: r.logger,
		report: &Report{Scenario: sc.Name},
	}

	dev, err := peripheral.New(peripheral.Options{
		Config:  r.cfg,
		Sensor:  capsense.NewByteReader(bus, r.cfg.Sensor.Address, r.cfg.Sensor.ByteTimeout),
		Link:    rp.link,
		LED:     rp.leds,
		Logger:  r.logger,
		Stepped: true,
	})
	if err != nil {
		return nil, err
	}
	rp.dev = dev

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- dev.Run(ctx) }()

	select {
	case <-rp.link.advertised:
	case err := <-done:
		return nil, fmt.Errorf("peripheral stopped during start: %w", err)
	case <-time.After(startTimeout):
		return nil, ErrStartTimeout
	}
	rp.collect()

	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rp.step(ctx, i+1, step)
	}

	cancel()
	if err := <-done; err != nil {
		return nil, err
	}
	rp.report.Stats = dev.Stats()
	return rp.report, nil
}

func (rp *replay) logf(format string, args ...any) {
	rp.report.Transcript = append(rp.report.Transcript, fmt.Sprintf(format, args...))
}

func (rp *replay) step(ctx context.Context, n int, s Step) {
	kind := s.Kind()
	rp.logger.WithFields(logrus.Fields{"step": n, "kind": kind}).Debug("Replay step")

	switch kind {
	case "frame":
		rp.bus.Push(capsense.Reading{Button0: s.Frame[0], Button1: s.Frame[1], Slider: s.Frame[2]})
		rp.logf("%d frame %v", n, s.Frame[:3])
		if _, err := rp.dev.Poll(); err != nil {
			rp.logf("  poll error: %v", err)
		}

	case "bus_error":
		rp.bus.Fail()
		rp.logf("%d bus_error", n)
		if _, err := rp.dev.Poll(); err == nil {
			rp.logf("  poll unexpectedly succeeded")
		}

	case "connect":
		rp.logf("%d connect %d %s", n, s.Connect.ConnID, s.Connect.Addr)
		rp.handle(ctx, server.ConnectionStatus{ConnID: s.Connect.ConnID, Addr: s.Connect.Addr, Connected: true})

	case "disconnect":
		rp.logf("%d disconnect %d", n, s.Disconnect.ConnID)
		rp.handle(ctx, server.ConnectionStatus{ConnID: s.Disconnect.ConnID, Reason: s.Disconnect.Reason})

	case "advert":
		state, err := link.ParseAdvertising(s.Advert)
		if err != nil {
			rp.logf("%d advert: %v", n, err)
			break
		}
		rp.logf("%d advert %s", n, state)
		rp.handle(ctx, server.AdvertisingStateChanged{State: state})

	case "request":
		pdu, _ := hex.DecodeString(normalizeHex(s.Request))
		connID := s.ConnID
		if connID == 0 {
			connID = rp.dev.Machine().ConnID()
		}
		rp.logf("%d request %d %x", n, connID, pdu)
		rp.handle(ctx, server.AttributeRequest{ConnID: connID, PDU: pdu})

	case "expect":
		rp.logf("%d expect %s", n, strings.Join(s.Expect.PDUs, " "))
		rp.check(n, "expect", s.Expect.PDUs, rp.unchecked)
		rp.unchecked = nil
		return

	case "led":
		ch, _ := parseChannel(s.LED.Channel)
		rp.logf("%d led %s=%d", n, ch, s.LED.Duty)
		actual := []string{"none"}
		if duty, ok := rp.leds.Last(ch); ok {
			actual = []string{fmt.Sprintf("%s=%d", ch, duty)}
		}
		rp.check(n, "led", []string{fmt.Sprintf("%s=%d", ch, s.LED.Duty)}, actual)
		return

	case "settle":
		rp.logf("%d settle %s", n, s.Settle)
		time.Sleep(s.Settle)
	}

	rp.dev.Settle()
	rp.collect()
}

func (rp *replay) handle(ctx context.Context, ev server.Event) {
	if err := rp.dev.Handle(ctx, ev); err != nil {
		rp.logf("  error: %v", err)
	}
}

// collect moves new output into the transcript and the unchecked list.
func (rp *replay) collect() {
	for _, pdu := range rp.link.take() {
		rp.logf("  tx %s", pdu)
		rp.unchecked = append(rp.unchecked, pdu)
	}
	changes := rp.leds.Changes()
	for _, c := range changes[rp.ledSeen:] {
		rp.logf("  led %s=%d", c.Channel, c.Duty)
	}
	rp.ledSeen = len(changes)
}

func (rp *replay) check(n int, kind string, expected, actual []string) {
	if strings.Join(expected, " ") == strings.Join(actual, " ") {
		return
	}
	rp.logf("  MISMATCH")
	rp.report.Mismatches = append(rp.report.Mismatches, Mismatch{
		Step:     n,
		Kind:     kind,
		Expected: append([]string(nil), expected...),
		Actual:   append([]string(nil), actual...),
	})
}

func parseChannel(s string) (actuator.Channel, error) {
	switch strings.ToLower(s) {
	case actuator.UserLED.String():
		return actuator.UserLED, nil
	case actuator.StatusLED.String():
		return actuator.StatusLED, nil
	default:
		return 0, fmt.Errorf("unknown LED channel %q", s)
	}
}
