package hardware

import (
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

// Porter is the minimal interface needed for the bridge port. It lets tests
// run without real serial hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// PortOptions describes the serial connection parameters of the controller
// bridge.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// DefaultBaudRate is what the bridge firmware ships with.
const DefaultBaudRate = 115200

var parities = map[string]string{
	"": "N", "N": "N", "NONE": "N",
	"E": "E", "EVEN": "E",
	"O": "O", "ODD": "O",
}

var serialParity = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

// Normalize fills unset fields (115200 8N1) and rejects values the bridge
// UART cannot run.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	parity, ok := parities[strings.ToUpper(strings.TrimSpace(o.Parity))]
	switch {
	case o.DataBits < 5 || o.DataBits > 8:
		return o, fmt.Errorf("invalid data bits %d: want 5-8", o.DataBits)
	case o.StopBits != 1 && o.StopBits != 2:
		return o, fmt.Errorf("invalid stop bits %d: want 1 or 2", o.StopBits)
	case !ok:
		return o, fmt.Errorf("unsupported parity %q: want N, E or O", o.Parity)
	}
	o.Parity = parity
	return o, nil
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{BaudRate: n.BaudRate, DataBits: n.DataBits}
	if n.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	mode.Parity = serialParity[n.Parity]
	return mode, nil
}

// OpenSerialBridge opens the serial device at path and wraps it in a Bridge.
func OpenSerialBridge(path string, opts PortOptions) (*Bridge[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	b := NewBridge[serial.Port](port)
	b.path = path
	return b, nil
}
