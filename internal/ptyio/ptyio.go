// Package ptyio exposes the master side of a raw-mode pseudo-terminal as a
// blocking io.ReadWriteCloser. A host process opens the slave path and
// exchanges bearer frames with the device through it.
//
// Both directions are buffered in byte rings owned by background loops
// that poll the master descriptor, so Close never races a blocked syscall.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/blecap/internal/groutine"
)

// ErrWriteOverflow is returned when a write does not fit in the outbound
// ring. Nothing is queued in that case, so frames are never split.
var ErrWriteOverflow = errors.New("pty write buffer overflow")

// DefaultPollTimeout bounds how long the loops sleep before re-checking
// for shutdown.
const DefaultPollTimeout = 50 * time.Millisecond

// Options configures Open. Zero values fall back to defaults.
type Options struct {
	ReadCap     int
	WriteCap    int
	PollTimeout time.Duration
	Logger      *logrus.Logger
}

// Stats is a point-in-time copy of the port counters.
type Stats struct {
	ReadQueueLen  int
	WriteQueueLen int
	ReadBytes     uint64
	WriteBytes    uint64
	DroppedRead   uint64
	RejectedWrite uint64
}

// Port is the master side of the PTY.
type Port struct {
	logger      *logrus.Logger
	master      *os.File
	slave       *os.File
	slavePath   string
	pollTimeout int

	readBuf     *ringbuffer.RingBuffer
	writeBuf    *ringbuffer.RingBuffer
	writeMu     sync.Mutex
	readNotify  chan struct{}
	writeNotify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	readBytes     atomic.Uint64
	writeBytes    atomic.Uint64
	droppedRead   atomic.Uint64
	rejectedWrite atomic.Uint64
}

// Open creates a PTY pair, switches the slave to raw mode and starts the
// read and write loops.
func Open(opts Options) (*Port, error) {
	if opts.ReadCap <= 0 {
		opts.ReadCap = 4096
	}
	if opts.WriteCap <= 0 {
		opts.WriteCap = 4096
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	master, slave, err := createPTY()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Port{
		logger:      logger,
		master:      master,
		slave:       slave,
		slavePath:   slave.Name(),
		pollTimeout: int(opts.PollTimeout / time.Millisecond),
		readBuf:     ringbuffer.New(opts.ReadCap),
		writeBuf:    ringbuffer.New(opts.WriteCap),
		readNotify:  make(chan struct{}, 1),
		writeNotify: make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}

	p.wg.Add(2)
	groutine.Go(ctx, "pty-read-loop", func(ctx context.Context) {
		defer p.wg.Done()
		p.readLoop(ctx)
	})
	groutine.Go(ctx, "pty-write-loop", func(ctx context.Context) {
		defer p.wg.Done()
		p.writeLoop(ctx)
	})

	logger.WithField("slave", p.slavePath).Info("PTY opened")
	return p, nil
}

// SlavePath returns the slave device path, e.g. /dev/pts/5.
func (p *Port) SlavePath() string {
	return p.slavePath
}

// Read blocks until buffered input is available or the port closes, in
// which case it returns io.EOF.
func (p *Port) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for {
		n, err := p.readBuf.TryRead(b)
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, err
		}
		select {
		case <-p.readNotify:
		case <-p.ctx.Done():
			return 0, io.EOF
		}
	}
}

// Write queues b for the slave. It is all or nothing: when the ring lacks
// room for b, ErrWriteOverflow is returned and nothing is queued.
func (p *Port) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if free := p.writeBuf.Capacity() - p.writeBuf.Length(); free < len(b) {
		p.rejectedWrite.Add(1)
		return 0, fmt.Errorf("%w: %d bytes, %d free", ErrWriteOverflow, len(b), free)
	}
	n, err := p.writeBuf.Write(b)
	select {
	case p.writeNotify <- struct{}{}:
	default:
	}
	return n, err
}

func (p *Port) readLoop(ctx context.Context) {
	fds := []unix.PollFd{{Fd: int32(p.master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 4096)

	for ctx.Err() == nil {
		ready, err := unix.Poll(fds, p.pollTimeout)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithError(err).Warn("PTY read poll failed")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := p.master.Read(buf)
		if n > 0 {
			written, _ := p.readBuf.Write(buf[:n])
			if written < n {
				p.droppedRead.Add(uint64(n - written))
				p.logger.WithFields(logrus.Fields{
					"received": n,
					"buffered": written,
				}).Warn("PTY read buffer overflow")
			}
			p.readBytes.Add(uint64(written))
			select {
			case p.readNotify <- struct{}{}:
			default:
			}
		}

		switch {
		case err == nil,
			errors.Is(err, syscall.EAGAIN),
			errors.Is(err, syscall.EINTR):
		case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed), errors.Is(err, io.EOF):
			return
		default:
			p.logger.WithError(err).Warn("PTY read loop stopped")
			return
		}
	}
}

func (p *Port) writeLoop(ctx context.Context) {
	fds := []unix.PollFd{{Fd: int32(p.master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for ctx.Err() == nil {
		n, err := p.writeBuf.TryRead(buf)
		if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
			select {
			case <-p.writeNotify:
			case <-ctx.Done():
				return
			}
			continue
		}

		for off := 0; off < n && ctx.Err() == nil; {
			w, err := p.master.Write(buf[off:n])
			if w > 0 {
				off += w
				p.writeBytes.Add(uint64(w))
			}
			switch {
			case err == nil, errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				if _, perr := unix.Poll(fds, p.pollTimeout); perr != nil && !errors.Is(perr, syscall.EINTR) {
					p.logger.WithError(perr).Warn("PTY write poll failed")
				}
			case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
				return
			default:
				p.logger.WithError(err).Warn("PTY write loop stopped")
				return
			}
		}
	}
}

// Close stops the loops and closes both descriptors. Pending reads return
// io.EOF.
func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	var errs []error
	if err := p.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY master: %w", err))
	}
	if err := p.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY slave: %w", err))
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		p.logger.WithField("slave", p.slavePath).Error("PTY loops did not stop in time")
	}
	return errors.Join(errs...)
}

func (p *Port) Stats() Stats {
	return Stats{
		ReadQueueLen:  p.readBuf.Length(),
		WriteQueueLen: p.writeBuf.Length(),
		ReadBytes:     p.readBytes.Load(),
		WriteBytes:    p.writeBytes.Load(),
		DroppedRead:   p.droppedRead.Load(),
		RejectedWrite: p.rejectedWrite.Load(),
	}
}

func createPTY() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	cleanup := func(step string, cause error) error {
		errs := []error{fmt.Errorf("%s %s: %w", step, slave.Name(), cause)}
		if err := master.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := slave.Close(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return nil, nil, cleanup("failed to set raw mode on", err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return nil, nil, cleanup("failed to set nonblocking mode on master of", err)
	}
	return master, slave, nil
}
