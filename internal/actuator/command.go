// Package actuator drives the two PWM LEDs. Producers hand commands to a
// single-slot Queue that always keeps the most recent command; a Task
// applies them to a Driver.
package actuator

import "fmt"

// Channel selects a PWM output.
type Channel uint8

const (
	// UserLED follows the touch input.
	UserLED Channel = iota
	// StatusLED reflects advertising/connection state.
	StatusLED
)

func (c Channel) String() string {
	switch c {
	case UserLED:
		return "user"
	case StatusLED:
		return "status"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Command is one of TurnOn, TurnOff, SetBrightness or SetDuty.
type Command interface {
	command()
	String() string
}

// TurnOn drives the user LED at full duty.
type TurnOn struct{}

// TurnOff turns the user LED off.
type TurnOff struct{}

// SetBrightness sets the user LED proportionally to a slider position.
type SetBrightness struct {
	Value uint8
}

// SetDuty writes a raw duty value to a channel.
type SetDuty struct {
	Channel Channel
	Value   uint16
}

func (TurnOn) command()        {}
func (TurnOff) command()       {}
func (SetBrightness) command() {}
func (SetDuty) command()       {}

func (TurnOn) String() string          { return "turn-on" }
func (TurnOff) String() string         { return "turn-off" }
func (c SetBrightness) String() string { return fmt.Sprintf("brightness(%d)", c.Value) }
func (c SetDuty) String() string       { return fmt.Sprintf("duty(%s=%d)", c.Channel, c.Value) }
