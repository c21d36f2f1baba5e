// Package frame is the per-frame entry point of the engine. The
// Coordinator owns the device registry, pose predictor and input tracker,
// and assembles an immutable Snapshot each time the host runs a frame.
package frame

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/vrtrack/internal/config"
	"github.com/banshee-data/vrtrack/internal/device"
	"github.com/banshee-data/vrtrack/internal/input"
	"github.com/banshee-data/vrtrack/internal/monitoring"
	"github.com/banshee-data/vrtrack/internal/settings"
	"github.com/banshee-data/vrtrack/internal/timeutil"
	"github.com/banshee-data/vrtrack/internal/tracking"
)

var (
	ErrInitializationFailed = errors.New("initialization failed")
	ErrNotInitialized       = errors.New("engine not initialized")
)

// State is the coordinator lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateStandby
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStandby:
		return "standby"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "uninitialized"
	}
}

// HostSink receives each frame's snapshot. PushFrame is called on the frame
// path and must not block.
type HostSink interface {
	PushFrame(*Snapshot)
}

// Config binds the coordinator's dependencies. Settings, Tuning and Host
// are required; Haptics and Clock are optional.
type Config struct {
	Settings *settings.Adapter
	Tuning   *config.TuningConfig
	Host     HostSink
	Haptics  input.HapticSink
	Clock    timeutil.Clock
}

type attachment struct {
	reference device.Handle
	offset    tracking.Offset
}

const (
	// timingWindow is the number of frame durations kept for diagnostics.
	timingWindow = 512
	maxHeldEdges = 4096
)

// FrameTiming is one recorded frame.
type FrameTiming struct {
	Sequence  uint64
	At        time.Time
	Duration  time.Duration
	Devices   int
	Untracked int
}

// Coordinator drives the engine lifecycle:
// Uninitialized -> Running <-> Standby -> ShuttingDown.
type Coordinator struct {
	state atomic.Int32

	// frameMu serialises RunFrame against Initialize and Shutdown so that
	// Shutdown waits for an in-flight frame.
	frameMu sync.Mutex
	// lifeMu is held shared by device and input calls and exclusively by
	// Shutdown, so no call that passed the state check outlives Shutdown.
	lifeMu sync.RWMutex

	clock     timeutil.Clock
	registry  *device.Registry
	predictor *tracking.Predictor
	input     *input.Tracker
	adapter   *settings.Adapter
	host      HostSink
	sessionID string
	budget    time.Duration
	throttle  *monitoring.Throttle

	settingsMu sync.RWMutex
	settings   settings.DriverSettings

	attachMu    sync.RWMutex
	attachments map[device.Handle]attachment

	latest       atomic.Pointer[Snapshot]
	seq          uint64
	pendingEdges []input.EdgeEvent

	timingMu sync.Mutex
	timings  []FrameTiming
	timingAt int

	hapticCancel context.CancelFunc
	hapticDone   chan struct{}
}

// New returns an uninitialized coordinator.
func New() *Coordinator {
	return &Coordinator{}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// SessionID identifies the current Initialize call.
func (c *Coordinator) SessionID() string {
	if c.State() == StateUninitialized {
		return ""
	}
	return c.sessionID
}

// Initialize binds dependencies, loads driver settings and enters Running.
// It fails with ErrInitializationFailed when a dependency is missing or the
// coordinator was already initialized.
func (c *Coordinator) Initialize(cfg Config) error {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()

	switch {
	case c.State() != StateUninitialized:
		return fmt.Errorf("%w: coordinator is %s", ErrInitializationFailed, c.State())
	case cfg.Settings == nil:
		return fmt.Errorf("%w: settings adapter unavailable", ErrInitializationFailed)
	case cfg.Tuning == nil:
		return fmt.Errorf("%w: tuning config unavailable", ErrInitializationFailed)
	case cfg.Host == nil:
		return fmt.Errorf("%w: host sink unavailable", ErrInitializationFailed)
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInitializationFailed, err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	c.clock = clock
	c.registry = device.NewRegistry(cfg.Tuning.GetMaxDevices(), func() int64 { return timeutil.NowNanos(clock) })
	c.predictor = tracking.NewPredictor(tracking.PredictorConfigFromTuning(cfg.Tuning), clock)
	c.input = input.NewTracker(input.Config{
		InputQueueDepth:     cfg.Tuning.GetInputQueueDepth(),
		HapticQueueDepth:    cfg.Tuning.GetHapticQueueDepth(),
		HapticMaxDurationUs: uint32(cfg.Tuning.GetHapticMaxDurationUs()),
	}, clock)
	c.adapter = cfg.Settings
	c.host = cfg.Host
	c.budget = time.Duration(cfg.Tuning.GetFrameBudgetUs()) * time.Microsecond
	c.throttle = monitoring.NewThrottle(5 * time.Second)
	c.attachments = make(map[device.Handle]attachment)
	c.timings = make([]FrameTiming, 0, timingWindow)
	c.sessionID = uuid.NewString()

	s := c.adapter.Load()
	c.settings = s

	if cfg.Haptics != nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.hapticCancel = cancel
		c.hapticDone = make(chan struct{})
		go func() {
			defer close(c.hapticDone)
			c.input.RunHaptics(ctx, cfg.Haptics)
		}()
	}

	c.state.Store(int32(StateRunning))
	monitoring.Logf("[Frame] initialized session %s: %dx%d @ %.0f Hz, prediction %.1f ms",
		c.sessionID, s.RenderWidth, s.RenderHeight, s.RefreshRate, s.PredictionTimeMs)
	return nil
}

// active returns ErrNotInitialized unless the coordinator is Running or in
// Standby.
func (c *Coordinator) active() error {
	switch c.State() {
	case StateRunning, StateStandby:
		return nil
	default:
		return ErrNotInitialized
	}
}

// enter performs the lifecycle check for calls that touch engine state and
// holds off Shutdown until release is called.
func (c *Coordinator) enter() (release func(), err error) {
	c.lifeMu.RLock()
	if err := c.active(); err != nil {
		c.lifeMu.RUnlock()
		return nil, err
	}
	return c.lifeMu.RUnlock, nil
}

// EnterStandby suspends pose pushes. Input is still drained every frame.
func (c *Coordinator) EnterStandby() error {
	if c.state.CompareAndSwap(int32(StateRunning), int32(StateStandby)) {
		monitoring.Logf("[Frame] entering standby")
		return nil
	}
	return c.active()
}

// LeaveStandby resumes pose pushes.
func (c *Coordinator) LeaveStandby() error {
	if c.state.CompareAndSwap(int32(StateStandby), int32(StateRunning)) {
		monitoring.Logf("[Frame] leaving standby")
		return nil
	}
	return c.active()
}

// Shutdown waits for any in-flight frame, stops haptic delivery and
// releases every registration. It is terminal: afterwards every method
// returns ErrNotInitialized.
func (c *Coordinator) Shutdown() error {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if err := c.active(); err != nil {
		return err
	}
	c.state.Store(int32(StateShuttingDown))

	if c.hapticCancel != nil {
		c.hapticCancel()
		<-c.hapticDone
	}
	c.registry.Reset()
	c.predictor.Reset()
	c.input.Reset()
	c.attachMu.Lock()
	c.attachments = make(map[device.Handle]attachment)
	c.attachMu.Unlock()
	c.pendingEdges = nil

	monitoring.Logf("[Frame] session %s shut down after %d frames", c.sessionID, c.seq)
	return nil
}

// RunFrame drains pending input and, when Running, predicts every
// registered device at the configured horizon and pushes the snapshot to
// the host. Devices without usable tracking are reported untracked; they
// never fail the frame. RunFrame performs no I/O.
func (c *Coordinator) RunFrame() error {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()

	state := c.State()
	if state != StateRunning && state != StateStandby {
		return ErrNotInitialized
	}
	start := c.clock.Now()

	edges := c.input.Drain()
	if state == StateStandby {
		c.holdEdges(edges)
		monitoring.FramesTotal.WithLabelValues(state.String()).Inc()
		return nil
	}

	horizon := c.Settings().PredictionTimeMs
	refs := c.registry.Snapshot()

	snap := newSnapshot(len(refs))
	c.seq++
	snap.Sequence = c.seq
	snap.SessionID = c.sessionID
	snap.TimestampNanos = start.UnixNano()
	snap.HorizonMs = horizon
	snap.Edges = append(c.pendingEdges, edges...)
	c.pendingEdges = nil

	c.attachMu.RLock()
	attachments := c.attachments // replaced, never mutated
	c.attachMu.RUnlock()

	var deferred []device.Ref
	for _, ref := range refs {
		if _, ok := attachments[ref.Handle]; ok && !c.predictor.HasData(ref.Handle) {
			deferred = append(deferred, ref)
			snap.add(DevicePose{Handle: ref.Handle, Serial: ref.Serial, Kind: ref.Kind})
			continue
		}
		snap.add(c.predictDevice(ref, horizon))
	}
	// Dependent devices resolve after every reference has been predicted.
	// A chain (tracker on controller on headset) settles one link per pass;
	// a pass that settles nothing ends the loop.
	for len(deferred) > 0 {
		var waiting []device.Ref
		for _, ref := range deferred {
			a := attachments[ref.Handle]
			base, ok := snap.Device(a.reference)
			if !ok || !base.Tracked {
				waiting = append(waiting, ref)
				continue
			}
			snap.Devices[snap.index[ref.Handle]] = DevicePose{
				Handle:  ref.Handle,
				Serial:  ref.Serial,
				Kind:    ref.Kind,
				Tracked: true,
				Derived: true,
				Pose: tracking.PredictedPose{
					Pose:      tracking.DeriveDependentPose(base.Pose.Pose, a.offset),
					HorizonMs: base.Pose.HorizonMs,
					Mode:      base.Pose.Mode,
					Stale:     base.Pose.Stale,
				},
			}
		}
		if len(waiting) == len(deferred) {
			break
		}
		deferred = waiting
	}

	c.latest.Store(snap)
	c.host.PushFrame(snap)

	untracked := snap.Untracked()
	elapsed := c.clock.Since(start)
	c.recordTiming(FrameTiming{Sequence: snap.Sequence, At: start, Duration: elapsed, Devices: len(snap.Devices), Untracked: untracked})
	monitoring.FramesTotal.WithLabelValues(state.String()).Inc()
	monitoring.FrameDuration.Observe(elapsed.Seconds())
	monitoring.UntrackedDevices.Set(float64(untracked))
	if c.budget > 0 && elapsed > c.budget {
		monitoring.FramesOverBudget.Inc()
		c.throttle.Logf(start, "[Frame] frame %d took %v, budget %v", snap.Sequence, elapsed, c.budget)
	}
	return nil
}

func (c *Coordinator) predictDevice(ref device.Ref, horizonMs float64) DevicePose {
	dp := DevicePose{Handle: ref.Handle, Serial: ref.Serial, Kind: ref.Kind}
	pp, err := c.predictor.Predict(ref.Handle, horizonMs)
	if err != nil {
		if !errors.Is(err, tracking.ErrNoTrackingData) {
			c.throttle.Logf(c.clock.Now(), "[Frame] prediction for %s failed: %v", ref.Serial, err)
		}
		return dp
	}
	dp.Tracked = true
	dp.Pose = pp
	return dp
}

// holdEdges keeps edges observed during standby for the next pushed frame.
// The oldest are discarded beyond maxHeldEdges.
func (c *Coordinator) holdEdges(edges []input.EdgeEvent) {
	if len(edges) == 0 {
		return
	}
	c.pendingEdges = append(c.pendingEdges, edges...)
	if n := len(c.pendingEdges); n > maxHeldEdges {
		c.pendingEdges = append([]input.EdgeEvent(nil), c.pendingEdges[n-maxHeldEdges:]...)
	}
}

func (c *Coordinator) recordTiming(ft FrameTiming) {
	c.timingMu.Lock()
	defer c.timingMu.Unlock()
	if len(c.timings) < timingWindow {
		c.timings = append(c.timings, ft)
		return
	}
	c.timings[c.timingAt] = ft
	c.timingAt = (c.timingAt + 1) % timingWindow
}

// RecentTimings returns up to the last 512 frame timings, oldest first.
func (c *Coordinator) RecentTimings() []FrameTiming {
	c.timingMu.Lock()
	defer c.timingMu.Unlock()
	out := make([]FrameTiming, 0, len(c.timings))
	out = append(out, c.timings[c.timingAt:]...)
	return append(out, c.timings[:c.timingAt]...)
}

// LatestSnapshot returns the most recently pushed snapshot, or nil.
func (c *Coordinator) LatestSnapshot() *Snapshot {
	if c.active() != nil {
		return nil
	}
	return c.latest.Load()
}
