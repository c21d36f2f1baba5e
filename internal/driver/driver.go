// Package driver is the surface a host-runtime ABI shim binds to. Every
// function is a pass-through onto the frame coordinator so the shim needs
// no logic of its own: Init maps to Initialize, RunFrame to RunFrame,
// EnterStandby/LeaveStandby to the same, and Cleanup to Shutdown.
package driver

import (
	"errors"
	"fmt"

	"github.com/banshee-data/vrtrack/internal/config"
	"github.com/banshee-data/vrtrack/internal/device"
	"github.com/banshee-data/vrtrack/internal/frame"
	"github.com/banshee-data/vrtrack/internal/hardware"
	"github.com/banshee-data/vrtrack/internal/input"
	"github.com/banshee-data/vrtrack/internal/monitoring"
	"github.com/banshee-data/vrtrack/internal/settings"
	"github.com/banshee-data/vrtrack/internal/timeutil"
	"github.com/banshee-data/vrtrack/internal/tracking"
)

// InitResult is the integer code reported to the host runtime by Init.
type InitResult int32

const (
	InitOK                   InitResult = 0
	InitErrUnknown           InitResult = 1
	InitErrInitFailed        InitResult = 100
	InitErrInvalidTuning     InitResult = 101
	InitErrHostUnavailable   InitResult = 102
	InitErrConfigUnavailable InitResult = 110
)

var (
	ErrInvalidTuning   = errors.New("invalid tuning configuration")
	ErrHostUnavailable = errors.New("host sink unavailable")
)

func (r InitResult) String() string {
	switch r {
	case InitOK:
		return "ok"
	case InitErrInitFailed:
		return "initialization_failed"
	case InitErrInvalidTuning:
		return "invalid_tuning"
	case InitErrHostUnavailable:
		return "host_unavailable"
	case InitErrConfigUnavailable:
		return "config_unavailable"
	default:
		return "unknown"
	}
}

// InitResultFromError maps an Initialize error onto its init-error code.
// The most specific cause wins.
func InitResultFromError(err error) InitResult {
	switch {
	case err == nil:
		return InitOK
	case errors.Is(err, ErrInvalidTuning):
		return InitErrInvalidTuning
	case errors.Is(err, ErrHostUnavailable):
		return InitErrHostUnavailable
	case errors.Is(err, settings.ErrConfigUnavailable):
		return InitErrConfigUnavailable
	case errors.Is(err, frame.ErrInitializationFailed):
		return InitErrInitFailed
	default:
		return InitErrUnknown
	}
}

// Config is what the shim hands to Initialize.
type Config struct {
	// Store backs driver settings. Nil runs on built-in defaults.
	Store settings.Store
	// Tuning nil means DefaultTuningConfig.
	Tuning  *config.TuningConfig
	Host    frame.HostSink
	Haptics input.HapticSink
	Clock   timeutil.Clock
}

// Context is the opaque engine handle returned by Initialize. A nil
// Context reports ErrNotInitialized from every method.
type Context struct {
	engine *frame.Coordinator
}

// Initialize builds and starts an engine. On error the returned Context is
// nil and InitResultFromError gives the code for the host.
func Initialize(cfg Config) (*Context, error) {
	if cfg.Host == nil {
		return nil, fmt.Errorf("%w: %w", frame.ErrInitializationFailed, ErrHostUnavailable)
	}
	tuning := cfg.Tuning
	if tuning == nil {
		tuning = config.DefaultTuningConfig()
	}
	if err := tuning.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", frame.ErrInitializationFailed, ErrInvalidTuning, err)
	}
	store := cfg.Store
	if store == nil {
		monitoring.Logf("[Driver] no settings store configured, using defaults")
		store = settings.NewMemoryStore()
	}

	c := frame.New()
	if err := c.Initialize(frame.Config{
		Settings: settings.NewAdapter(store),
		Tuning:   tuning,
		Host:     cfg.Host,
		Haptics:  cfg.Haptics,
		Clock:    cfg.Clock,
	}); err != nil {
		return nil, err
	}
	return &Context{engine: c}, nil
}

func (ctx *Context) coordinator() (*frame.Coordinator, error) {
	if ctx == nil || ctx.engine == nil {
		return nil, frame.ErrNotInitialized
	}
	return ctx.engine, nil
}

// Engine exposes the coordinator for in-process consumers such as the
// debug web server.
func (ctx *Context) Engine() *frame.Coordinator {
	if ctx == nil {
		return nil
	}
	return ctx.engine
}

func (ctx *Context) RunFrame() error {
	c, err := ctx.coordinator()
	if err != nil {
		return err
	}
	return c.RunFrame()
}

func (ctx *Context) EnterStandby() error {
	c, err := ctx.coordinator()
	if err != nil {
		return err
	}
	return c.EnterStandby()
}

func (ctx *Context) LeaveStandby() error {
	c, err := ctx.coordinator()
	if err != nil {
		return err
	}
	return c.LeaveStandby()
}

// Shutdown saves settings (best effort) and stops the engine. The Context
// is unusable afterwards.
func (ctx *Context) Shutdown() error {
	c, err := ctx.coordinator()
	if err != nil {
		return err
	}
	if err := c.SaveSettings(); err != nil {
		monitoring.Logf("[Driver] settings not saved on shutdown: %v", err)
	}
	return c.Shutdown()
}

func (ctx *Context) GetPoseSnapshot(h device.Handle) (tracking.PredictedPose, error) {
	c, err := ctx.coordinator()
	if err != nil {
		return tracking.PredictedPose{}, err
	}
	return c.PoseSnapshot(h)
}

func (ctx *Context) GetButtonState(h device.Handle, b input.Button) (input.ButtonState, error) {
	c, err := ctx.coordinator()
	if err != nil {
		return input.ButtonState{}, err
	}
	return c.ButtonState(h, b)
}

func (ctx *Context) GetAxisState(h device.Handle, a input.Axis) (input.AxisState, error) {
	c, err := ctx.coordinator()
	if err != nil {
		return input.AxisState{}, err
	}
	return c.AxisState(h, a)
}

// TriggerHaptic validates and queues a pulse. Invalid parameters return
// input.ErrInvalidHapticParameters with no side effect.
func (ctx *Context) TriggerHaptic(h device.Handle, durationUs uint32, frequencyHz, amplitude float64) error {
	c, err := ctx.coordinator()
	if err != nil {
		return err
	}
	return c.TriggerHaptic(h, durationUs, frequencyHz, amplitude)
}

func (ctx *Context) RegisterDevice(serial string, kind device.Kind) (device.Handle, error) {
	c, err := ctx.coordinator()
	if err != nil {
		return 0, err
	}
	return c.RegisterDevice(serial, kind)
}

func (ctx *Context) UnregisterDevice(h device.Handle) error {
	c, err := ctx.coordinator()
	if err != nil {
		return err
	}
	return c.UnregisterDevice(h)
}

// IngestPose hands a sensor sample to the predictor. Samples not newer than
// the one held are dropped silently.
func (ctx *Context) IngestPose(h device.Handle, pose tracking.Pose) error {
	c, err := ctx.coordinator()
	if err != nil {
		return err
	}
	_, err = c.IngestPose(h, pose)
	return err
}

// HandleHardwareEvent resolves a bridge event's serial and queues it for
// the next frame. A full input queue drops the event without error.
func (ctx *Context) HandleHardwareEvent(ev hardware.ControlEvent) error {
	c, err := ctx.coordinator()
	if err != nil {
		return err
	}
	ref, err := c.LookupBySerial(ev.Serial)
	if err != nil {
		return fmt.Errorf("hardware event for %q: %w", ev.Serial, err)
	}
	_, err = c.HandleHardwareEvent(input.Event{
		Type:    ev.Type,
		Handle:  ref.Handle,
		Button:  ev.Button,
		Pressed: ev.Pressed,
		Axis:    ev.Axis,
		X:       ev.X,
		Y:       ev.Y,
	})
	return err
}
