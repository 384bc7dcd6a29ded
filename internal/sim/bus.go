package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/srg/blecap/internal/capsense"
)

var (
	// ErrNoDevice is returned by Start when nothing is scripted.
	ErrNoDevice = errors.New("no device acknowledged address")
	// ErrInjected is the scripted bus fault.
	ErrInjected = errors.New("injected bus fault")
)

type busItem struct {
	frame []byte
	fault bool
}

// ScriptBus is a capsense.ByteBus that plays back queued frames. Each Start
// takes the next queued item; a queued fault fails the first byte read so
// the reader has to issue Stop on its own.
type ScriptBus struct {
	mu      sync.Mutex
	items   []busItem
	idle    bool
	addr    uint16
	current []byte
	pos     int
	fault   bool
	open    bool

	starts int
	stops  int
}

// NewScriptBus answers only at addr. With idle set, an empty script yields
// idle sensor frames instead of ErrNoDevice.
func NewScriptBus(addr uint16, idle bool) *ScriptBus {
	return &ScriptBus{addr: addr, idle: idle}
}

// Push queues a decoded reading; it is encoded as the sensor would send it.
func (b *ScriptBus) Push(r capsense.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, busItem{frame: capsense.Encode(r)})
}

// PushRaw queues raw frame bytes.
func (b *ScriptBus) PushRaw(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, busItem{frame: append([]byte(nil), frame...)})
}

// Fail queues a transaction that faults mid-frame.
func (b *ScriptBus) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, busItem{fault: true})
}

func (b *ScriptBus) Start(addr uint16, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if addr != b.addr {
		return fmt.Errorf("%w: 0x%02x", ErrNoDevice, addr)
	}
	var item busItem
	switch {
	case len(b.items) > 0:
		item = b.items[0]
		b.items = b.items[1:]
	case b.idle:
		item = busItem{frame: capsense.Encode(capsense.Idle())}
	default:
		return fmt.Errorf("%w: 0x%02x", ErrNoDevice, addr)
	}

	b.starts++
	b.open = true
	b.current, b.pos, b.fault = item.frame, 0, item.fault
	return nil
}

func (b *ScriptBus) ReadByte(_ bool, _ time.Duration) (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return 0, errors.New("read outside transaction")
	}
	if b.fault {
		return 0, ErrInjected
	}
	if b.pos >= len(b.current) {
		return 0, errors.New("read past scripted frame")
	}
	v := b.current[b.pos]
	b.pos++
	return v, nil
}

func (b *ScriptBus) Stop(_ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops++
	b.open = false
	return nil
}

// Pending returns the number of queued items.
func (b *ScriptBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Transactions returns how many Start and Stop calls were seen.
func (b *ScriptBus) Transactions() (starts, stops int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts, b.stops
}
