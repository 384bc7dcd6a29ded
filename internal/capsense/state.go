package capsense

import "sync"

// NumButtons is published as the button count once a client subscribes to
// button notifications.
const NumButtons uint8 = 2

// Snapshot is a consistent view of the sensed values.
type Snapshot struct {
	ButtonCount  uint8
	ButtonStatus uint8
	Slider       uint8
}

// ButtonValue encodes the button characteristic value.
func (s Snapshot) ButtonValue() []byte {
	return []byte{s.ButtonCount, s.ButtonStatus}
}

// SliderValue encodes the slider characteristic value.
func (s Snapshot) SliderValue() []byte {
	return []byte{s.Slider}
}

// State is written by the poller and the request handler and read by the
// notification path.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewState() *State {
	return &State{}
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Apply records the values carried by fx.
func (s *State) Apply(fx Effects) {
	if fx.ButtonStatus == StatusNone && !fx.SliderMoved {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if fx.ButtonStatus != StatusNone {
		s.snap.ButtonStatus = fx.ButtonStatus
	}
	if fx.SliderMoved {
		s.snap.Slider = fx.Slider
	}
}

func (s *State) SetButtonCount(n uint8) {
	s.mu.Lock()
	s.snap.ButtonCount = n
	s.mu.Unlock()
}
