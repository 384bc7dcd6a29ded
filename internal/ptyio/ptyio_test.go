package ptyio

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPort(t *testing.T, opts Options) *Port {
	t.Helper()
	p, err := Open(opts)
	if err != nil {
		t.Skipf("PTY not available: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func openSlave(t *testing.T, p *Port) *os.File {
	t.Helper()
	f, err := os.OpenFile(p.SlavePath(), os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestPortRoundTrip(t *testing.T) {
	p := openPort(t, Options{})
	slave := openSlave(t, p)
	assert.NotEmpty(t, p.SlavePath())

	_, err := slave.Write([]byte{0x03, 0x00, 0x01, 0x07, 0x00, 0x0a})
	require.NoError(t, err)

	got := make([]byte, 6)
	_, err = io.ReadFull(p, got)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x00, 0x01, 0x07, 0x00, 0x0a}, got)

	n, err := p.Write([]byte{0x01, 0x00, 0x04, 0x01})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, slave.SetReadDeadline(time.Now().Add(2*time.Second)))
	back := make([]byte, 4)
	_, err = io.ReadFull(slave, back)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x04, 0x01}, back)

	assert.Eventually(t, func() bool { return p.Stats().WriteBytes == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(6), p.Stats().ReadBytes)
}

func TestPortWriteIsAllOrNothing(t *testing.T) {
	p := openPort(t, Options{WriteCap: 8})

	_, err := p.Write(make([]byte, 9))
	assert.ErrorIs(t, err, ErrWriteOverflow)
	assert.Equal(t, uint64(1), p.Stats().RejectedWrite)
}

func TestPortCloseUnblocksRead(t *testing.T) {
	p := openPort(t, Options{PollTimeout: 10 * time.Millisecond})

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Read(make([]byte, 1))
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not return after Close")
	}

	_, err := p.Write([]byte{1})
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.NoError(t, p.Close())
}
