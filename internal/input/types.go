// Package input holds per-device button and axis state, reports edges and
// queues haptic pulses for the hardware bridge.
package input

import (
	"fmt"
	"strings"

	"github.com/banshee-data/vrtrack/internal/device"
)

// Button identifies a digital input.
type Button uint8

const (
	ButtonSystem Button = iota
	ButtonMenu
	ButtonGrip
	ButtonTrigger
	ButtonTrackpadClick
	ButtonTrackpadTouch
	ButtonJoystickClick
	ButtonA
	ButtonB
	numButtons
)

var buttonNames = [numButtons]string{
	"system", "menu", "grip", "trigger", "trackpad_click",
	"trackpad_touch", "joystick_click", "a", "b",
}

func (b Button) Valid() bool { return b < numButtons }

func (b Button) String() string {
	if !b.Valid() {
		return fmt.Sprintf("button(%d)", uint8(b))
	}
	return buttonNames[b]
}

// ParseButton maps a button name to a Button.
func ParseButton(s string) (Button, error) {
	s = strings.ToLower(s)
	for i, n := range buttonNames {
		if n == s {
			return Button(i), nil
		}
	}
	return 0, fmt.Errorf("unknown button %q", s)
}

// Axis identifies an analog input.
type Axis uint8

const (
	AxisTrackpad Axis = iota
	AxisJoystick
	AxisTrigger
	AxisGrip
	numAxes
)

var axisNames = [numAxes]string{"trackpad", "joystick", "trigger", "grip"}

func (a Axis) Valid() bool { return a < numAxes }

func (a Axis) String() string {
	if !a.Valid() {
		return fmt.Sprintf("axis(%d)", uint8(a))
	}
	return axisNames[a]
}

// ParseAxis maps an axis name to an Axis.
func ParseAxis(s string) (Axis, error) {
	s = strings.ToLower(s)
	for i, n := range axisNames {
		if n == s {
			return Axis(i), nil
		}
	}
	return 0, fmt.Errorf("unknown axis %q", s)
}

// OneSided reports whether the axis is a single [0,1] value (triggers and
// grips) rather than a [-1,1]² position.
func (a Axis) OneSided() bool {
	return a == AxisTrigger || a == AxisGrip
}

// ButtonEdge is a transition of a digital input.
type ButtonEdge uint8

const (
	EdgeNone ButtonEdge = iota
	EdgePressed
	EdgeReleased
)

func (e ButtonEdge) String() string {
	switch e {
	case EdgePressed:
		return "pressed"
	case EdgeReleased:
		return "released"
	default:
		return "none"
	}
}

// ButtonState is the latest known state of a button.
type ButtonState struct {
	Pressed         bool
	LastChangeNanos int64
}

// AxisState is the latest known, clamped value of an axis. Y is always 0
// for one-sided axes.
type AxisState struct {
	X, Y            float64
	LastChangeNanos int64
}

// EdgeEvent records one observed button transition.
type EdgeEvent struct {
	Handle         device.Handle
	Button         Button
	Edge           ButtonEdge
	TimestampNanos int64
}

// EventType distinguishes hardware input events.
type EventType uint8

const (
	EventButton EventType = iota
	EventAxis
)

// Event is a physical input change delivered by the hardware bridge.
type Event struct {
	Type    EventType
	Handle  device.Handle
	Button  Button
	Pressed bool
	Axis    Axis
	X, Y    float64
}

// HapticCommand is a validated haptic pulse for the hardware bridge.
type HapticCommand struct {
	Handle      device.Handle
	Serial      string
	DurationUs  uint32
	FrequencyHz float64
	Amplitude   float64
	IssuedNanos int64
}
