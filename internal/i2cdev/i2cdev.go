// Package i2cdev drives a Linux I2C adapter (/dev/i2c-N) through the
// tinygo drivers.I2C interface, so frame readers written against TinyGo
// buses run unchanged on a host.
package i2cdev

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"tinygo.org/x/drivers"
)

// ioctlSlave selects the target address for subsequent reads and writes.
const ioctlSlave = 0x0703

var ErrClosed = errors.New("i2c adapter closed")

var _ drivers.I2C = (*Bus)(nil)

// Bus is one adapter. Tx calls are serialised; each Tx is a write
// followed by a read, each ending in a stop condition.
type Bus struct {
	mu     sync.Mutex
	dev    io.ReadWriteCloser
	target func(addr uint16) error
	addr   int
	closed bool
	logger *logrus.Logger
}

// Open opens the adapter at path (for example /dev/i2c-1).
func Open(path string, logger *logrus.Logger) (*Bus, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c adapter: %w", err)
	}
	target := func(addr uint16) error {
		return unix.IoctlSetInt(int(f.Fd()), ioctlSlave, int(addr))
	}
	return newBus(f, target, logger), nil
}

func newBus(dev io.ReadWriteCloser, target func(uint16) error, logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Bus{dev: dev, target: target, addr: -1, logger: logger}
}

// Tx writes w then reads len(r) bytes from the device at addr.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if int(addr) != b.addr {
		if err := b.target(addr); err != nil {
			return fmt.Errorf("select 0x%02x: %w", addr, err)
		}
		b.addr = int(addr)
		b.logger.WithField("addr", fmt.Sprintf("0x%02x", addr)).Debug("I2C target selected")
	}
	if len(w) > 0 {
		n, err := b.dev.Write(w)
		if err != nil {
			return fmt.Errorf("write 0x%02x: %w", addr, err)
		}
		if n != len(w) {
			return fmt.Errorf("write 0x%02x: %w", addr, io.ErrShortWrite)
		}
	}
	if len(r) > 0 {
		if _, err := io.ReadFull(b.dev, r); err != nil {
			return fmt.Errorf("read 0x%02x: %w", addr, err)
		}
	}
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.dev.Close()
}
