package actuator

import "golang.org/x/exp/constraints"

// Mapping converts commands to duty values. Each channel has its own full
// scale: the user LED runs 0..UserMax, the status LED 0..StatusMax.
type Mapping struct {
	UserMax         uint16
	StatusMax       uint16
	BrightnessScale uint16
}

// Max returns the full-scale duty of ch.
func (m Mapping) Max(ch Channel) uint16 {
	if ch == StatusLED {
		return m.StatusMax
	}
	return m.UserMax
}

// Duty returns the channel and duty a command resolves to.
func (m Mapping) Duty(cmd Command) (Channel, uint16, bool) {
	switch c := cmd.(type) {
	case TurnOn:
		return UserLED, m.UserMax, true
	case TurnOff:
		return UserLED, 0, true
	case SetBrightness:
		return UserLED, uint16(clamp(uint32(c.Value)*uint32(m.BrightnessScale), 0, uint32(m.UserMax))), true
	case SetDuty:
		return c.Channel, clamp(c.Value, 0, m.Max(c.Channel)), true
	default:
		return 0, 0, false
	}
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
