package capsense

import "fmt"

// Frame layout as sent by the touch controller.
const (
	FrameSize = 3

	button0Index = 0
	button1Index = 1
	sliderIndex  = 2

	// button bytes arrive offset by this amount
	asciiOffset = 30
)

// Idle values. Button 1 rests at 1, not 0.
const (
	Button0NotPressed uint8 = 0
	Button1NotPressed uint8 = 1
	SliderNoChange    uint8 = 0
)

// Reading is one decoded frame.
type Reading struct {
	Button0 uint8
	Button1 uint8
	Slider  uint8
}

// Decode converts a raw frame. Frames longer than FrameSize are accepted and
// the trailing bytes ignored.
func Decode(frame []byte) (Reading, error) {
	if len(frame) < FrameSize {
		return Reading{}, fmt.Errorf("short frame: %d bytes", len(frame))
	}
	return Reading{
		Button0: frame[button0Index] - asciiOffset,
		Button1: frame[button1Index] - asciiOffset,
		Slider:  frame[sliderIndex],
	}, nil
}

// Encode is the inverse of Decode, used to script simulated frames.
func Encode(r Reading) []byte {
	return []byte{r.Button0 + asciiOffset, r.Button1 + asciiOffset, r.Slider}
}

// Idle is the frame of an untouched sensor.
func Idle() Reading {
	return Reading{Button0: Button0NotPressed, Button1: Button1NotPressed, Slider: SliderNoChange}
}
