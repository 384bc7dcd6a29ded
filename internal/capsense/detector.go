package capsense

import (
	"github.com/srg/blecap/internal/actuator"
)

// Button status values published to the GATT button characteristic.
const (
	StatusNone    uint8 = 0
	StatusButton0 uint8 = 1
	StatusButton1 uint8 = 2
)

// ChannelSample is the pair compared on each cycle.
type ChannelSample[T comparable] struct {
	Current  T
	Previous T
}

// Pressed reports a not-pressed → pressed transition.
func (s ChannelSample[T]) Pressed(notPressed T) bool {
	return s.Current != notPressed && s.Previous == notPressed
}

// Moved reports a slider change to a meaningful position.
func (s ChannelSample[T]) Moved(noChange T) bool {
	return s.Current != noChange && s.Current != s.Previous
}

// Effects is what one cycle asks the rest of the system to do.
type Effects struct {
	// Command is the LED command; when several channels fire in the same
	// cycle the last assignment (slider over button 1 over button 0) wins.
	Command actuator.Command

	ButtonStatus uint8 // StatusNone when no button edge
	SliderMoved  bool
	Slider       uint8
}

// Changed reports whether any channel produced an edge.
func (e Effects) Changed() bool {
	return e.Command != nil
}

// Detector keeps the previously polled values. The zero value is not ready;
// use NewDetector.
type Detector struct {
	prev Reading
}

// NewDetector starts from an idle sensor, so a touch present in the very
// first frame is reported.
func NewDetector() *Detector {
	return &Detector{prev: Idle()}
}

// Previous returns the values the next reading will be compared with.
func (d *Detector) Previous() Reading {
	return d.prev
}

// Update compares r with the previous reading, returns the resulting
// effects and makes r the new baseline.
func (d *Detector) Update(r Reading) Effects {
	var fx Effects

	button0 := ChannelSample[uint8]{Current: r.Button0, Previous: d.prev.Button0}
	button1 := ChannelSample[uint8]{Current: r.Button1, Previous: d.prev.Button1}
	slider := ChannelSample[uint8]{Current: r.Slider, Previous: d.prev.Slider}

	if button0.Pressed(Button0NotPressed) {
		fx.Command = actuator.TurnOn{}
		fx.ButtonStatus = StatusButton0
	}
	if button1.Pressed(Button1NotPressed) {
		fx.Command = actuator.TurnOff{}
		fx.ButtonStatus = StatusButton1
	}
	if slider.Moved(SliderNoChange) {
		fx.Command = actuator.SetBrightness{Value: r.Slider}
		fx.SliderMoved = true
		fx.Slider = r.Slider
	}

	d.prev = r
	return fx
}
