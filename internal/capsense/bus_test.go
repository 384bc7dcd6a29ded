package capsense

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/drivers"
)

// scriptedBus records the bus conditions it sees.
type scriptedBus struct {
	data     []byte
	failAt   int // byte index that fails, -1 for none
	startErr error
	stopErr  error

	starts int
	stops  int
	acks   []bool
	pos    int
}

func (b *scriptedBus) Start(addr uint16, timeout time.Duration) error {
	b.starts++
	b.pos = 0
	return b.startErr
}

func (b *scriptedBus) ReadByte(ack bool, timeout time.Duration) (byte, error) {
	if b.pos == b.failAt {
		return 0, errors.New("timeout")
	}
	b.acks = append(b.acks, ack)
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

func (b *scriptedBus) Stop(timeout time.Duration) error {
	b.stops++
	return b.stopErr
}

func TestByteReader_ReadFrame(t *testing.T) {
	t.Run("ack all but last byte", func(t *testing.T) {
		bus := &scriptedBus{data: []byte{30, 31, 77}, failAt: -1}
		r := NewByteReader(bus, 0x08, time.Millisecond)

		buf := make([]byte, 3)
		require.NoError(t, r.ReadFrame(buf))
		assert.Equal(t, []byte{30, 31, 77}, buf)
		assert.Equal(t, []bool{true, true, false}, bus.acks, "last byte MUST be NAKed")
		assert.Equal(t, 1, bus.stops)
	})

	t.Run("stop issued after a failed byte", func(t *testing.T) {
		// GOAL: Verify the bus is always released once a transaction started
		//
		// TEST SCENARIO: second byte times out → ErrBus → Stop still issued exactly once

		bus := &scriptedBus{data: []byte{30, 31, 77}, failAt: 1}
		r := NewByteReader(bus, 0x08, time.Millisecond)

		err := r.ReadFrame(make([]byte, 3))
		assert.ErrorIs(t, err, ErrBus)
		assert.Equal(t, 1, bus.stops, "stop MUST be issued after a mid-frame failure")
	})

	t.Run("no stop when start fails", func(t *testing.T) {
		bus := &scriptedBus{startErr: errors.New("nak on address"), failAt: -1}
		r := NewByteReader(bus, 0x08, time.Millisecond)

		err := r.ReadFrame(make([]byte, 3))
		assert.ErrorIs(t, err, ErrBus)
		assert.Equal(t, 0, bus.stops)
	})

	t.Run("stop failure surfaces", func(t *testing.T) {
		bus := &scriptedBus{data: []byte{30, 31, 0}, failAt: -1, stopErr: errors.New("stuck")}
		r := NewByteReader(bus, 0x08, time.Millisecond)

		err := r.ReadFrame(make([]byte, 3))
		assert.ErrorIs(t, err, ErrBus)
	})

	t.Run("read error wins over stop error", func(t *testing.T) {
		bus := &scriptedBus{data: []byte{30, 31, 0}, failAt: 0, stopErr: errors.New("stuck")}
		r := NewByteReader(bus, 0x08, time.Millisecond)

		err := r.ReadFrame(make([]byte, 3))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read byte 0")
	})
}

var _ drivers.I2C = (*fakeI2C)(nil)

type fakeI2C struct {
	frame []byte
	err   error
	addr  uint16
}

func (f *fakeI2C) Tx(addr uint16, w, r []byte) error {
	f.addr = addr
	if f.err != nil {
		return f.err
	}
	copy(r, f.frame)
	return nil
}

func TestTxReader_ReadFrame(t *testing.T) {
	bus := &fakeI2C{frame: []byte{31, 31, 12}}
	r := NewTxReader(bus, 0x08)

	buf := make([]byte, 3)
	require.NoError(t, r.ReadFrame(buf))
	assert.Equal(t, []byte{31, 31, 12}, buf)
	assert.Equal(t, uint16(0x08), bus.addr)

	bus.err = errors.New("arbitration lost")
	assert.ErrorIs(t, r.ReadFrame(buf), ErrBus)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   []byte
		want    Reading
		wantErr bool
	}{
		{"idle", []byte{30, 31, 0}, Reading{Button0: 0, Button1: 1, Slider: 0}, false},
		{"both pressed", []byte{31, 32, 0}, Reading{Button0: 1, Button1: 2, Slider: 0}, false},
		{"slider", []byte{30, 31, 90}, Reading{Button0: 0, Button1: 1, Slider: 90}, false},
		{"trailing bytes ignored", []byte{30, 31, 5, 0xff}, Reading{Button0: 0, Button1: 1, Slider: 5}, false},
		{"short", []byte{30, 31}, Reading{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.frame)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.frame[:FrameSize], Encode(got))
		})
	}
}
