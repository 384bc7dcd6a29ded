package i2cdev

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blecap/internal/capsense"
)

type fakeAdapter struct {
	rx      *bytes.Reader
	written bytes.Buffer
	closed  bool
}

func (f *fakeAdapter) Read(p []byte) (int, error)  { return f.rx.Read(p) }
func (f *fakeAdapter) Write(p []byte) (int, error) { return f.written.Write(p) }
func (f *fakeAdapter) Close() error                { f.closed = true; return nil }

func TestBus_TxSelectsTargetOnce(t *testing.T) {
	// GOAL: Verify the target address is selected only when it changes
	//
	// TEST SCENARIO: two reads from 0x08 then one from 0x09 → two selects, frames read in order

	dev := &fakeAdapter{rx: bytes.NewReader([]byte{30, 31, 5, 30, 31, 6, 0xaa})}
	var selected []uint16
	bus := newBus(dev, func(addr uint16) error {
		selected = append(selected, addr)
		return nil
	}, nil)

	r := capsense.NewTxReader(bus, 0x08)
	buf := make([]byte, 3)
	require.NoError(t, r.ReadFrame(buf))
	assert.Equal(t, []byte{30, 31, 5}, buf)
	require.NoError(t, r.ReadFrame(buf))
	assert.Equal(t, []byte{30, 31, 6}, buf)

	reg := make([]byte, 1)
	require.NoError(t, bus.Tx(0x09, []byte{0x10}, reg))
	assert.Equal(t, []byte{0xaa}, reg)
	assert.Equal(t, []byte{0x10}, dev.written.Bytes())
	assert.Equal(t, []uint16{0x08, 0x09}, selected)
}

func TestBus_Errors(t *testing.T) {
	dev := &fakeAdapter{rx: bytes.NewReader([]byte{30})}
	bus := newBus(dev, func(addr uint16) error {
		if addr == 0x50 {
			return errors.New("device busy")
		}
		return nil
	}, nil)

	err := bus.Tx(0x50, nil, make([]byte, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "select 0x50")

	err = bus.Tx(0x08, nil, make([]byte, 3))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF, "a short frame MUST fail")

	require.NoError(t, bus.Close())
	assert.True(t, dev.closed)
	assert.ErrorIs(t, bus.Tx(0x08, nil, make([]byte, 1)), ErrClosed)
	assert.NoError(t, bus.Close(), "Close MUST be idempotent")
}

func TestOpen_MissingAdapter(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "i2c-9"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open i2c adapter")
}
