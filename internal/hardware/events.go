package hardware

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/banshee-data/vrtrack/internal/input"
)

// Line types emitted by the controller bridge firmware, one JSON object
// per line.
const (
	LineTypeButton = "button"
	LineTypeAxis   = "axis"
	LineTypeIMU    = "imu"
	LineTypeStatus = "status"
)

// ControlEvent is a button or axis change reported by the bridge, keyed by
// device serial. The engine resolves the serial to a handle.
type ControlEvent struct {
	Serial  string
	Type    input.EventType
	Button  input.Button
	Pressed bool
	Axis    input.Axis
	X, Y    float64
}

// IMUSample is a raw inertial reading.
type IMUSample struct {
	Serial         string     `json:"serial"`
	TimestampNanos int64      `json:"t"`
	Accel          [3]float64 `json:"accel"` // m/s²
	Gyro           [3]float64 `json:"gyro"`  // rad/s
}

type wireLine struct {
	Type    string     `json:"type"`
	Serial  string     `json:"serial"`
	Button  string     `json:"button,omitempty"`
	Pressed bool       `json:"pressed,omitempty"`
	Axis    string     `json:"axis,omitempty"`
	X       float64    `json:"x,omitempty"`
	Y       float64    `json:"y,omitempty"`
	T       int64      `json:"t,omitempty"`
	Accel   [3]float64 `json:"accel,omitempty"`
	Gyro    [3]float64 `json:"gyro,omitempty"`
}

// ParsedLine is the decoded form of one bridge line. Exactly one of Control
// and IMU is set for button, axis and imu lines; other types carry neither.
type ParsedLine struct {
	Type    string
	Control *ControlEvent
	IMU     *IMUSample
}

// ParseLine decodes one line from the bridge.
func ParseLine(line string) (ParsedLine, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return ParsedLine{}, fmt.Errorf("not a JSON line: %q", line)
	}
	var w wireLine
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return ParsedLine{}, fmt.Errorf("failed to unmarshal line: %w", err)
	}

	out := ParsedLine{Type: w.Type}
	switch w.Type {
	case LineTypeButton:
		b, err := input.ParseButton(w.Button)
		if err != nil {
			return out, err
		}
		if w.Serial == "" {
			return out, fmt.Errorf("button line without serial")
		}
		out.Control = &ControlEvent{Serial: w.Serial, Type: input.EventButton, Button: b, Pressed: w.Pressed}
	case LineTypeAxis:
		a, err := input.ParseAxis(w.Axis)
		if err != nil {
			return out, err
		}
		if w.Serial == "" {
			return out, fmt.Errorf("axis line without serial")
		}
		out.Control = &ControlEvent{Serial: w.Serial, Type: input.EventAxis, Axis: a, X: w.X, Y: w.Y}
	case LineTypeIMU:
		if w.Serial == "" {
			return out, fmt.Errorf("imu line without serial")
		}
		out.IMU = &IMUSample{Serial: w.Serial, TimestampNanos: w.T, Accel: w.Accel, Gyro: w.Gyro}
	case LineTypeStatus:
	default:
		return out, fmt.Errorf("unknown line type %q", w.Type)
	}
	return out, nil
}

// FormatHaptic renders a haptic command in the bridge's text protocol.
func FormatHaptic(cmd input.HapticCommand) string {
	return fmt.Sprintf("HAPTIC %s %d %g %.3f", cmd.Serial, cmd.DurationUs, cmd.FrequencyHz, cmd.Amplitude)
}
