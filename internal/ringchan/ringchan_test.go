package ringchan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannel_LatestWins(t *testing.T) {
	rc := New[int](1)

	assert.False(t, rc.Send(1), "first send MUST NOT drop")
	assert.True(t, rc.Send(2), "second send MUST drop the stale value")
	assert.True(t, rc.Send(3))

	v, ok := rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 3, v, "consumer MUST observe only the latest value")

	_, ok = rc.TryReceive()
	assert.False(t, ok, "nothing MUST remain after the single slot is drained")

	stats := rc.Stats()
	assert.Equal(t, int64(3), stats.Written)
	assert.Equal(t, int64(2), stats.Overwritten)
	assert.Equal(t, int64(1), stats.Processed)
}

func TestRingChannel_KeepsNewestWindow(t *testing.T) {
	rc := New[int](3)
	for i := 0; i < 10; i++ {
		rc.Send(i)
	}
	assert.Equal(t, 3, rc.Len())
	assert.Equal(t, 3, rc.Cap())

	var got []int
	for {
		v, ok := rc.TryReceive()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{7, 8, 9}, got)
}

func TestRingChannel_TrySend(t *testing.T) {
	rc := New[string](1)
	assert.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"), "TrySend MUST NOT overwrite")

	v, err := rc.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestRingChannel_ReceiveHonoursContext(t *testing.T) {
	rc := New[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := rc.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRingChannel_ConcurrentProducersNeverBlock(t *testing.T) {
	rc := New[int](1)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				rc.Send(base + i)
			}
		}(p * 1000)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producers MUST never block")
	}
	assert.Equal(t, 1, rc.Len())
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
