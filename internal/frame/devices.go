package frame

import (
	"errors"
	"fmt"

	"github.com/banshee-data/vrtrack/internal/device"
	"github.com/banshee-data/vrtrack/internal/input"
	"github.com/banshee-data/vrtrack/internal/monitoring"
	"github.com/banshee-data/vrtrack/internal/settings"
	"github.com/banshee-data/vrtrack/internal/tracking"
)

// RegisterDevice adds a discovered device and starts tracking its input.
func (c *Coordinator) RegisterDevice(serial string, kind device.Kind) (device.Handle, error) {
	release, err := c.enter()
	if err != nil {
		return device.InvalidHandle, err
	}
	defer release()
	h, err := c.registry.Register(serial, kind)
	if err != nil {
		return device.InvalidHandle, err
	}
	ref, err := c.registry.Lookup(h)
	if err != nil {
		return device.InvalidHandle, err
	}
	c.input.Add(ref)
	monitoring.Logf("[Frame] registered %s %s as handle %d", kind, serial, h)
	return h, nil
}

// UnregisterDevice removes a device on disconnect. Removing an unknown or
// already removed handle is a no-op.
func (c *Coordinator) UnregisterDevice(h device.Handle) error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()
	c.registry.Unregister(h)
	c.predictor.Forget(h)
	c.input.Remove(h)

	c.attachMu.Lock()
	defer c.attachMu.Unlock()
	next := make(map[device.Handle]attachment, len(c.attachments))
	for dep, a := range c.attachments {
		if dep != h && a.reference != h {
			next[dep] = a
		}
	}
	c.attachments = next
	return nil
}

// Lookup returns the registered device for h.
func (c *Coordinator) Lookup(h device.Handle) (device.Ref, error) {
	release, err := c.enter()
	if err != nil {
		return device.Ref{}, err
	}
	defer release()
	return c.registry.Lookup(h)
}

// LookupBySerial returns the registered device with serial.
func (c *Coordinator) LookupBySerial(serial string) (device.Ref, error) {
	release, err := c.enter()
	if err != nil {
		return device.Ref{}, err
	}
	defer release()
	return c.registry.LookupBySerial(serial)
}

// Devices returns every registered device in registration order.
func (c *Coordinator) Devices() ([]device.Ref, error) {
	release, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	return c.registry.Snapshot(), nil
}

// SetDeviceProperty records a metadata property on a registered device.
func (c *Coordinator) SetDeviceProperty(h device.Handle, key, value string) error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()
	return c.registry.SetProperty(h, key, value)
}

// Attach marks dependent as derived from reference through offset. The
// dependent's pose is derived each frame while it has no pose of its own.
func (c *Coordinator) Attach(dependent, reference device.Handle, offset tracking.Offset) error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()
	if dependent == reference {
		return fmt.Errorf("cannot attach handle %d to itself", dependent)
	}
	for _, h := range []device.Handle{dependent, reference} {
		if _, err := c.registry.Lookup(h); err != nil {
			return err
		}
	}

	c.attachMu.Lock()
	defer c.attachMu.Unlock()
	for h := reference; ; {
		a, ok := c.attachments[h]
		if !ok {
			break
		}
		if a.reference == dependent {
			return fmt.Errorf("attaching %d to %d would form a cycle", dependent, reference)
		}
		h = a.reference
	}
	next := make(map[device.Handle]attachment, len(c.attachments)+1)
	for k, v := range c.attachments {
		next[k] = v
	}
	next[dependent] = attachment{reference: reference, offset: offset}
	c.attachments = next
	return nil
}

// Detach stops deriving dependent's pose.
func (c *Coordinator) Detach(dependent device.Handle) error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()
	c.attachMu.Lock()
	defer c.attachMu.Unlock()
	if _, ok := c.attachments[dependent]; !ok {
		return nil
	}
	next := make(map[device.Handle]attachment, len(c.attachments))
	for k, v := range c.attachments {
		if k != dependent {
			next[k] = v
		}
	}
	c.attachments = next
	return nil
}

// IngestPose stores a sensor sample for a registered device. It reports
// false for samples that are not newer than the stored one.
func (c *Coordinator) IngestPose(h device.Handle, pose tracking.Pose) (bool, error) {
	release, err := c.enter()
	if err != nil {
		return false, err
	}
	defer release()
	if _, err := c.registry.Lookup(h); err != nil {
		monitoring.PosesIngested.WithLabelValues("unknown_device").Inc()
		return false, err
	}
	return c.predictor.IngestPose(h, pose)
}

// IngestSerial is IngestPose keyed by serial, for sensor transports.
func (c *Coordinator) IngestSerial(serial string, pose tracking.Pose) error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()
	ref, err := c.registry.LookupBySerial(serial)
	if err != nil {
		monitoring.PosesIngested.WithLabelValues("unknown_device").Inc()
		return err
	}
	_, err = c.predictor.IngestPose(ref.Handle, pose)
	return err
}

// RawPose returns the latest ingested sample for h, before prediction.
func (c *Coordinator) RawPose(h device.Handle) (tracking.Pose, error) {
	release, err := c.enter()
	if err != nil {
		return tracking.Pose{}, err
	}
	defer release()
	return c.predictor.Latest(h)
}

// Recalibrate replaces the sensor->host basis used for every output.
func (c *Coordinator) Recalibrate(b tracking.Basis) error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()
	c.predictor.SetBasis(b)
	monitoring.Logf("[Frame] basis recalibrated")
	return nil
}

// PoseSnapshot returns h's pose from the latest frame. A registered device
// that was untracked, or registered after that frame, yields
// tracking.ErrNoTrackingData.
func (c *Coordinator) PoseSnapshot(h device.Handle) (tracking.PredictedPose, error) {
	release, err := c.enter()
	if err != nil {
		return tracking.PredictedPose{}, err
	}
	defer release()
	if dp, ok := c.latest.Load().Device(h); ok && dp.Tracked {
		return dp.Pose, nil
	}
	if _, err := c.registry.Lookup(h); err != nil {
		return tracking.PredictedPose{}, err
	}
	return tracking.PredictedPose{}, fmt.Errorf("handle %d: %w", h, tracking.ErrNoTrackingData)
}

// HandleHardwareEvent queues a button or axis event for the next frame.
// It never blocks; false means the queue was full and the event dropped.
func (c *Coordinator) HandleHardwareEvent(ev input.Event) (bool, error) {
	release, err := c.enter()
	if err != nil {
		return false, err
	}
	defer release()
	return c.input.Enqueue(ev), nil
}

// UpdateButton applies a button change immediately and returns the edge,
// if any.
func (c *Coordinator) UpdateButton(h device.Handle, b input.Button, pressed bool) (input.ButtonEdge, bool, error) {
	release, err := c.enter()
	if err != nil {
		return input.EdgeNone, false, err
	}
	defer release()
	if _, err := c.input.ButtonState(h, b); err != nil {
		return input.EdgeNone, false, err
	}
	edge, changed := c.input.UpdateButton(h, b, pressed)
	return edge, changed, nil
}

// UpdateAxis applies an axis change immediately, clamping to range.
func (c *Coordinator) UpdateAxis(h device.Handle, a input.Axis, x, y float64) error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()
	if _, err := c.input.AxisState(h, a); err != nil {
		return err
	}
	c.input.UpdateAxis(h, a, x, y)
	return nil
}

// ButtonState returns the current state of one button.
func (c *Coordinator) ButtonState(h device.Handle, b input.Button) (input.ButtonState, error) {
	release, err := c.enter()
	if err != nil {
		return input.ButtonState{}, err
	}
	defer release()
	return c.input.ButtonState(h, b)
}

// AxisState returns the current state of one axis.
func (c *Coordinator) AxisState(h device.Handle, a input.Axis) (input.AxisState, error) {
	release, err := c.enter()
	if err != nil {
		return input.AxisState{}, err
	}
	defer release()
	return c.input.AxisState(h, a)
}

// TriggerHaptic validates and queues a haptic pulse. It returns before the
// pulse reaches hardware.
func (c *Coordinator) TriggerHaptic(h device.Handle, durationUs uint32, frequencyHz, amplitude float64) error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()
	return c.input.TriggerHaptic(h, durationUs, frequencyHz, amplitude)
}

// Settings returns the driver settings in effect.
func (c *Coordinator) Settings() settings.DriverSettings {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	return c.settings
}

// CurrentSettings is Settings with the lifecycle check.
func (c *Coordinator) CurrentSettings() (settings.DriverSettings, error) {
	release, err := c.enter()
	if err != nil {
		return settings.DriverSettings{}, err
	}
	defer release()
	return c.Settings(), nil
}

// UpdateSettings replaces the driver settings at runtime. Out-of-range
// fields fall back to defaults; their names are returned.
func (c *Coordinator) UpdateSettings(s settings.DriverSettings) ([]string, error) {
	release, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	fixed := s.Validate()
	c.settingsMu.Lock()
	c.settings = s
	c.settingsMu.Unlock()
	if len(fixed) > 0 {
		monitoring.Logf("[Frame] settings update replaced out-of-range %v with defaults", fixed)
	}
	return fixed, nil
}

// SaveSettings persists the current settings. Store failures are logged
// and returned for information only; they do not affect the engine.
func (c *Coordinator) SaveSettings() error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()
	err = c.adapter.Save(c.Settings())
	if err != nil && !errors.Is(err, settings.ErrConfigUnavailable) {
		monitoring.Logf("[Frame] settings save incomplete: %v", err)
	}
	return err
}
