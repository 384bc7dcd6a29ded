// Package capsense reads the touch controller over the bus, turns raw
// frames into edge events and keeps the latest sensed values for the GATT
// side.
package capsense

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/drivers"
)

// ErrBus wraps any failed bus transaction.
var ErrBus = errors.New("bus error")

// ByteBus is a byte-level master read interface: a start condition with the
// device address, single-byte reads that ACK or NAK, and a stop condition.
type ByteBus interface {
	Start(addr uint16, timeout time.Duration) error
	ReadByte(ack bool, timeout time.Duration) (byte, error)
	Stop(timeout time.Duration) error
}

// FrameReader fills buf with one complete frame.
type FrameReader interface {
	ReadFrame(buf []byte) error
}

// ByteReader reads frames through a ByteBus. Once Start succeeds Stop is
// always issued, whatever happens to the byte reads in between.
type ByteReader struct {
	mu      sync.Mutex
	bus     ByteBus
	addr    uint16
	timeout time.Duration
}

func NewByteReader(bus ByteBus, addr uint16, timeout time.Duration) *ByteReader {
	return &ByteReader{bus: bus, addr: addr, timeout: timeout}
}

// ReadFrame ACKs every byte except the last, which is NAKed to end the read.
// On error the content of buf is unspecified.
func (r *ByteReader) ReadFrame(buf []byte) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.bus.Start(r.addr, r.timeout); err != nil {
		return fmt.Errorf("%w: start 0x%02x: %w", ErrBus, r.addr, err)
	}
	defer func() {
		if stopErr := r.bus.Stop(r.timeout); stopErr != nil && err == nil {
			err = fmt.Errorf("%w: stop: %w", ErrBus, stopErr)
		}
	}()

	last := len(buf) - 1
	for i := range buf {
		b, readErr := r.bus.ReadByte(i < last, r.timeout)
		if readErr != nil {
			return fmt.Errorf("%w: read byte %d: %w", ErrBus, i, readErr)
		}
		buf[i] = b
	}
	return nil
}

// TxReader reads frames from a transaction-level bus (tinygo drivers.I2C),
// where the controller handles ACK/NAK and stop itself.
type TxReader struct {
	bus  drivers.I2C
	addr uint16
}

func NewTxReader(bus drivers.I2C, addr uint16) *TxReader {
	return &TxReader{bus: bus, addr: addr}
}

func (r *TxReader) ReadFrame(buf []byte) error {
	if err := r.bus.Tx(r.addr, nil, buf); err != nil {
		return fmt.Errorf("%w: tx 0x%02x: %w", ErrBus, r.addr, err)
	}
	return nil
}
