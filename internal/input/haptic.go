package input

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/vrtrack/internal/device"
	"github.com/banshee-data/vrtrack/internal/monitoring"
	"github.com/banshee-data/vrtrack/internal/timeutil"
)

var (
	ErrInvalidHapticParameters = errors.New("invalid haptic parameters")
	ErrHapticsUnsupported      = errors.New("device has no haptic actuator")
)

// DefaultHapticMaxDurationUs is the hardware-safe ceiling used when the
// tracker is configured without one.
const DefaultHapticMaxDurationUs = 500000

// HapticSink delivers haptic commands to hardware.
type HapticSink interface {
	SendHaptic(ctx context.Context, cmd HapticCommand) error
}

type hapticQueue struct {
	ch            chan HapticCommand
	maxDurationUs uint32
}

func newHapticQueue(depth int, maxDurationUs uint32) *hapticQueue {
	if depth <= 0 {
		depth = 64
	}
	if maxDurationUs == 0 {
		maxDurationUs = DefaultHapticMaxDurationUs
	}
	return &hapticQueue{
		ch:            make(chan HapticCommand, depth),
		maxDurationUs: maxDurationUs,
	}
}

// ValidateHaptic checks a pulse against the amplitude range and the
// duration ceiling.
func ValidateHaptic(durationUs uint32, frequencyHz, amplitude float64, maxDurationUs uint32) error {
	switch {
	case math.IsNaN(amplitude) || amplitude < 0 || amplitude > 1:
		return fmt.Errorf("%w: amplitude %v outside [0,1]", ErrInvalidHapticParameters, amplitude)
	case durationUs == 0:
		return fmt.Errorf("%w: zero duration", ErrInvalidHapticParameters)
	case durationUs > maxDurationUs:
		return fmt.Errorf("%w: duration %dus exceeds %dus", ErrInvalidHapticParameters, durationUs, maxDurationUs)
	case math.IsNaN(frequencyHz) || math.IsInf(frequencyHz, 0) || frequencyHz < 0:
		return fmt.Errorf("%w: frequency %v", ErrInvalidHapticParameters, frequencyHz)
	}
	return nil
}

// TriggerHaptic validates a pulse and queues it for the hardware bridge.
// Invalid parameters are returned synchronously with no side effect. The
// call never waits for delivery; if the queue is full the pulse is dropped.
func (t *Tracker) TriggerHaptic(h device.Handle, durationUs uint32, frequencyHz, amplitude float64) error {
	if err := ValidateHaptic(durationUs, frequencyHz, amplitude, t.haptics.maxDurationUs); err != nil {
		monitoring.HapticCommands.WithLabelValues("invalid").Inc()
		return err
	}

	d := t.get(h)
	if d == nil {
		return fmt.Errorf("handle %d: %w", h, device.ErrUnknownDevice)
	}
	d.mu.Lock()
	kind, serial := d.kind, d.serial
	d.mu.Unlock()

	switch kind.Class {
	case device.ClassController, device.ClassTracker:
	default:
		return fmt.Errorf("handle %d (%s): %w", h, kind, ErrHapticsUnsupported)
	}

	cmd := HapticCommand{
		Handle:      h,
		Serial:      serial,
		DurationUs:  durationUs,
		FrequencyHz: frequencyHz,
		Amplitude:   amplitude,
		IssuedNanos: timeutil.NowNanos(t.clock),
	}
	select {
	case t.haptics.ch <- cmd:
		monitoring.HapticCommands.WithLabelValues("queued").Inc()
	default:
		monitoring.HapticCommands.WithLabelValues("dropped").Inc()
		monitoring.Logf("[Input] haptic queue full, dropping pulse for %s", serial)
	}
	return nil
}

// PendingHaptics returns the number of queued haptic commands.
func (t *Tracker) PendingHaptics() int {
	return len(t.haptics.ch)
}

// RunHaptics delivers queued haptic commands to sink until ctx is done.
// Delivery errors are logged and counted; they never reach the caller of
// TriggerHaptic.
func (t *Tracker) RunHaptics(ctx context.Context, sink HapticSink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-t.haptics.ch:
			if err := sink.SendHaptic(ctx, cmd); err != nil {
				monitoring.HapticCommands.WithLabelValues("failed").Inc()
				monitoring.Logf("[Input] haptic to %s failed: %v", cmd.Serial, err)
				continue
			}
			monitoring.HapticCommands.WithLabelValues("sent").Inc()
		}
	}
}
