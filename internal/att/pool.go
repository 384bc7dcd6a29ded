package att

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var ErrResourceExhausted = errors.New("response buffer budget exhausted")

// Pool hands out response buffers against a fixed byte budget. A buffer
// stays charged to the budget until Release, which the transport calls once
// the bytes have actually left.
type Pool struct {
	mu     sync.Mutex
	budget int
	inUse  int

	gets     atomic.Int64
	releases atomic.Int64
	failures atomic.Int64
}

func NewPool(budget int) *Pool {
	return &Pool{budget: budget}
}

// Buffer is a pooled response buffer.
type Buffer struct {
	B    []byte
	size int
	pool *Pool
	once sync.Once
}

// Get reserves n bytes.
func (p *Pool) Get(n int) (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inUse+n > p.budget {
		p.failures.Add(1)
		return nil, fmt.Errorf("%w: need %d, %d of %d in flight", ErrResourceExhausted, n, p.inUse, p.budget)
	}
	p.inUse += n
	p.gets.Add(1)
	return &Buffer{B: make([]byte, n), size: n, pool: p}, nil
}

// Release returns the buffer's bytes to the budget. Extra calls are no-ops.
func (b *Buffer) Release() {
	b.once.Do(func() {
		b.pool.mu.Lock()
		b.pool.inUse -= b.size
		b.pool.mu.Unlock()
		b.pool.releases.Add(1)
	})
}

// InUse is the number of bytes currently charged.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Outstanding is the number of buffers not yet released.
func (p *Pool) Outstanding() int64 {
	return p.gets.Load() - p.releases.Load()
}

func (p *Pool) Failures() int64 {
	return p.failures.Load()
}
