// Package hardware talks to the controller bridge: a serial device that
// streams button, axis and IMU lines and accepts haptic commands.
package hardware

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/banshee-data/vrtrack/internal/input"
	"github.com/banshee-data/vrtrack/internal/monitoring"
)

var ErrWriteFailed = errors.New("failed to write to bridge port")

// ControlHandler receives parsed control events from Monitor.
type ControlHandler func(ControlEvent)

// Bridge multiplexes one bridge port: lines read from it are parsed and
// dispatched to the control handler and fanned out raw to subscribers;
// commands are serialised onto it.
type Bridge[T Porter] struct {
	port T
	path string

	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex

	handlerMu sync.RWMutex
	handler   ControlHandler

	imuMu sync.RWMutex
	imu   map[string]IMUSample

	closing   bool
	closingMu sync.Mutex
}

// NewBridge wraps port.
func NewBridge[T Porter](port T) *Bridge[T] {
	return &Bridge[T]{
		port:        port,
		subscribers: make(map[string]chan string),
		imu:         make(map[string]IMUSample),
	}
}

// SetControlHandler installs the callback for button and axis events.
func (b *Bridge[T]) SetControlHandler(h ControlHandler) {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	b.handler = h
}

func randomID() string {
	buf := make([]byte, 8)
	crand.Read(buf)
	return hex.EncodeToString(buf)
}

// Subscribe returns a channel receiving every raw line. The ID is used to
// unsubscribe. Slow subscribers miss lines rather than block the reader.
func (b *Bridge[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bridge[T]) Unsubscribe(id string) {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Initialize asks the bridge to start streaming.
func (b *Bridge[T]) Initialize() error {
	for _, command := range []string{
		"STREAM BUTTONS ON",
		"STREAM AXES ON",
		"STREAM IMU ON",
	} {
		if err := b.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand writes one newline-terminated command to the port.
func (b *Bridge[T]) SendCommand(command string) error {
	b.commandMu.Lock()
	defer b.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := b.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// SendHaptic forwards a haptic command to the bridge. It satisfies
// input.HapticSink.
func (b *Bridge[T]) SendHaptic(_ context.Context, cmd input.HapticCommand) error {
	if cmd.Serial == "" || strings.ContainsAny(cmd.Serial, " \n") {
		return fmt.Errorf("invalid serial %q for haptic command", cmd.Serial)
	}
	return b.SendCommand(FormatHaptic(cmd))
}

// LatestIMU returns the most recent IMU sample for serial.
func (b *Bridge[T]) LatestIMU(serial string) (IMUSample, bool) {
	b.imuMu.RLock()
	defer b.imuMu.RUnlock()
	s, ok := b.imu[serial]
	return s, ok
}

// Monitor reads lines until ctx is done or the port reaches EOF.
func (b *Bridge[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(b.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				return scan.Err()
			}
			b.closingMu.Lock()
			closing := b.closing
			b.closingMu.Unlock()
			if closing {
				return nil
			}

			b.dispatch(line)
			b.fanOut(line)
		}
	}
}

func (b *Bridge[T]) dispatch(line string) {
	parsed, err := ParseLine(line)
	if err != nil {
		monitoring.Logf("[Bridge] ignoring line: %v", err)
		return
	}
	switch {
	case parsed.Control != nil:
		b.handlerMu.RLock()
		h := b.handler
		b.handlerMu.RUnlock()
		if h != nil {
			h(*parsed.Control)
		}
	case parsed.IMU != nil:
		b.imuMu.Lock()
		if prev, ok := b.imu[parsed.IMU.Serial]; !ok || parsed.IMU.TimestampNanos > prev.TimestampNanos {
			b.imu[parsed.IMU.Serial] = *parsed.IMU
		}
		b.imuMu.Unlock()
	}
}

func (b *Bridge[T]) fanOut(line string) {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close closes all subscriber channels and the port.
func (b *Bridge[T]) Close() error {
	b.closingMu.Lock()
	b.closing = true
	b.closingMu.Unlock()

	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	return b.port.Close()
}
