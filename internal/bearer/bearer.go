// Package bearer carries ATT traffic and link events over a byte stream
// (a PTY, a socket or a pipe) using a small length-prefixed framing.
package bearer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecap/internal/groutine"
	"github.com/srg/blecap/internal/link"
	"github.com/srg/blecap/internal/server"
)

var (
	ErrClosed      = errors.New("bearer closed")
	ErrTxQueueFull = errors.New("transmit queue full")
)

// Advertising mode bytes. The device only ever requests AdvertisingHigh;
// the host reports every mode it enters with the same frame kind.
const (
	AdvertisingOff  byte = 0x00
	AdvertisingHigh byte = 0x01
	AdvertisingLow  byte = 0x02
)

// controlSlots is the room kept above the ATT depth for control frames, so
// advertising requests are never refused because PDUs are backed up.
const controlSlots = 4

// Sink consumes decoded events. *server.Server satisfies it.
type Sink interface {
	Handle(ctx context.Context, ev server.Event) error
}

type outbound struct {
	frame Frame
	done  func()
}

// Stats is a point-in-time copy of the bearer counters.
type Stats struct {
	FramesIn   int64
	FramesOut  int64
	Rejected   int64
	BadFrames  int64
	WriteFails int64
}

// Bearer implements server.Transport and link.Advertiser on top of rw.
type Bearer struct {
	rw     io.ReadWriter
	logger *logrus.Logger

	mu      sync.Mutex
	tx      mpmc.RichOverlappedRingBuffer[outbound]
	depth   uint32
	pending uint32
	wake    chan struct{}
	closed  atomic.Bool

	framesIn   atomic.Int64
	framesOut  atomic.Int64
	rejected   atomic.Int64
	badFrames  atomic.Int64
	writeFails atomic.Int64
}

// New creates a bearer whose transmit queue holds at most depth ATT frames,
// plus controlSlots control frames. The ring is sized at twice that so the
// overlap policy never kicks in: dropping a queued frame would lose its
// completion callback.
func New(rw io.ReadWriter, depth uint32, logger *logrus.Logger) *Bearer {
	if depth == 0 {
		depth = 1
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Bearer{
		rw:     rw,
		logger: logger,
		tx:     mpmc.NewOverlappedRingBuffer[outbound]((depth + controlSlots) * 2),
		depth:  depth,
		wake:   make(chan struct{}, 1),
	}
}

// Send queues an ATT PDU for connID. done runs once the frame has been
// written, or when the bearer shuts down with the frame still queued.
// It is not called when Send returns an error.
func (b *Bearer) Send(connID uint16, pdu []byte, done func()) error {
	return b.enqueue(NewConnFrame(KindATT, connID, pdu), done, b.depth)
}

// StartAdvertising asks the host side to (re)start high-duty advertising.
func (b *Bearer) StartAdvertising(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.enqueue(Frame{Kind: KindAdvertising, Payload: []byte{AdvertisingHigh}}, nil, b.depth+controlSlots)
}

func (b *Bearer) enqueue(f Frame, done func(), limit uint32) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if len(f.Payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(f.Payload))
	}

	b.mu.Lock()
	if b.pending >= limit {
		b.mu.Unlock()
		b.rejected.Add(1)
		return fmt.Errorf("%w: %d frames pending", ErrTxQueueFull, b.pending)
	}
	if overwrites, err := b.tx.EnqueueM(outbound{frame: f, done: done}); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("unexpected transmit ring error: %w", err)
	} else if overwrites > 0 {
		b.logger.WithField("overwrites", overwrites).Error("transmit ring overwrote queued frames")
	}
	b.pending++
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

func (b *Bearer) dequeue() (outbound, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx.IsEmpty() {
		return outbound{}, false
	}
	out, err := b.tx.Dequeue()
	if err != nil {
		return outbound{}, false
	}
	b.pending--
	return out, true
}

// Pending returns the number of queued frames.
func (b *Bearer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.pending)
}

// Run starts the writer and reads frames into sink until ctx is cancelled
// or the stream ends. A clean EOF returns nil.
func (b *Bearer) Run(ctx context.Context, sink Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	groutine.Go(ctx, "bearer-writer", func(ctx context.Context) {
		defer close(writerDone)
		b.writeLoop(ctx, sink)
	})
	if c, ok := b.rw.(io.Closer); ok {
		groutine.Go(ctx, "bearer-closer", func(ctx context.Context) {
			<-ctx.Done()
			_ = c.Close()
		})
	}

	err := b.readLoop(ctx, sink)
	cancel()
	<-writerDone
	b.closed.Store(true)
	b.flush()

	if ctx.Err() != nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrClosed, err)
}

func (b *Bearer) readLoop(ctx context.Context, sink Sink) error {
	for {
		f, err := ReadFrame(b.rw)
		if err != nil {
			return err
		}
		b.framesIn.Add(1)

		ev, err := toEvent(f)
		if err != nil {
			b.badFrames.Add(1)
			b.logger.WithError(err).WithField("kind", f.Kind).Warn("Dropping malformed frame")
			continue
		}
		if err := sink.Handle(ctx, ev); err != nil {
			b.logger.WithError(err).WithField("event", ev.String()).Warn("Event handling failed")
		}
	}
}

func toEvent(f Frame) (server.Event, error) {
	switch f.Kind {
	case KindATT:
		id, err := f.ConnID()
		if err != nil {
			return nil, err
		}
		return server.AttributeRequest{ConnID: id, PDU: f.Body()}, nil
	case KindConnect:
		id, err := f.ConnID()
		if err != nil {
			return nil, err
		}
		return server.ConnectionStatus{ConnID: id, Addr: string(f.Body()), Connected: true}, nil
	case KindDisconnect:
		id, err := f.ConnID()
		if err != nil {
			return nil, err
		}
		return server.ConnectionStatus{ConnID: id, Reason: string(f.Body())}, nil
	case KindAdvertising:
		if len(f.Payload) != 1 {
			return nil, fmt.Errorf("%w: advertising frame with %d bytes", ErrShortPayload, len(f.Payload))
		}
		switch f.Payload[0] {
		case AdvertisingOff:
			return server.AdvertisingStateChanged{State: link.AdvertisingOff}, nil
		case AdvertisingHigh:
			return server.AdvertisingStateChanged{State: link.AdvertisingHigh}, nil
		case AdvertisingLow:
			return server.AdvertisingStateChanged{State: link.AdvertisingLow}, nil
		}
		return server.Unhandled{Name: fmt.Sprintf("advertising(0x%02x)", f.Payload[0])}, nil
	case KindPairing:
		id, err := f.ConnID()
		if err != nil {
			return nil, err
		}
		return server.PairingRequested{ConnID: id}, nil
	default:
		return server.Unhandled{Name: f.Kind.String()}, nil
	}
}

func (b *Bearer) writeLoop(ctx context.Context, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
		}
		for {
			out, ok := b.dequeue()
			if !ok {
				break
			}
			b.write(ctx, sink, out)
		}
	}
}

func (b *Bearer) write(ctx context.Context, sink Sink, out outbound) {
	raw, err := out.frame.Encode()
	if err == nil {
		_, err = b.rw.Write(raw)
	}
	if err != nil {
		b.writeFails.Add(1)
		b.logger.WithError(err).WithField("kind", out.frame.Kind).Warn("Frame write failed")
	} else {
		b.framesOut.Add(1)
	}
	if out.done == nil {
		return
	}
	if err := sink.Handle(ctx, server.BufferTransmitted{Release: out.done}); err != nil {
		out.done()
	}
}

// flush releases frames still queued at shutdown.
func (b *Bearer) flush() {
	for {
		out, ok := b.dequeue()
		if !ok {
			return
		}
		if out.done != nil {
			out.done()
		}
	}
}

func (b *Bearer) Stats() Stats {
	return Stats{
		FramesIn:   b.framesIn.Load(),
		FramesOut:  b.framesOut.Load(),
		Rejected:   b.rejected.Load(),
		BadFrames:  b.badFrames.Load(),
		WriteFails: b.writeFails.Load(),
	}
}
