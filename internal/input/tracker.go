package input

import (
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/vrtrack/internal/device"
	"github.com/banshee-data/vrtrack/internal/monitoring"
	"github.com/banshee-data/vrtrack/internal/timeutil"
)

type deviceInput struct {
	mu      sync.Mutex
	kind    device.Kind
	serial  string
	buttons [numButtons]ButtonState
	axes    [numAxes]AxisState
}

// Tracker holds the input state of every added device. Each device has its
// own lock so updates for one controller never wait on another.
type Tracker struct {
	clock timeutil.Clock

	mu      sync.RWMutex
	devices map[device.Handle]*deviceInput

	events  chan Event
	haptics *hapticQueue
}

// Config sizes the tracker's queues.
type Config struct {
	InputQueueDepth     int
	HapticQueueDepth    int
	HapticMaxDurationUs uint32
}

// NewTracker creates a Tracker.
func NewTracker(cfg Config, clock timeutil.Clock) *Tracker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.InputQueueDepth <= 0 {
		cfg.InputQueueDepth = 256
	}
	return &Tracker{
		clock:   clock,
		devices: make(map[device.Handle]*deviceInput),
		events:  make(chan Event, cfg.InputQueueDepth),
		haptics: newHapticQueue(cfg.HapticQueueDepth, cfg.HapticMaxDurationUs),
	}
}

// Add starts tracking input for a registered device.
func (t *Tracker) Add(ref device.Ref) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.devices[ref.Handle]; !ok {
		t.devices[ref.Handle] = &deviceInput{kind: ref.Kind, serial: ref.Serial}
	}
}

// Remove drops the input state for h.
func (t *Tracker) Remove(h device.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.devices, h)
}

// Reset drops the input state of every device.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.devices = make(map[device.Handle]*deviceInput)
}

func (t *Tracker) get(h device.Handle) *deviceInput {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.devices[h]
}

// UpdateButton stores the new button state and returns the edge if the
// state actually changed. Repeating the current state returns false.
func (t *Tracker) UpdateButton(h device.Handle, b Button, pressed bool) (ButtonEdge, bool) {
	d := t.get(h)
	if d == nil || !b.Valid() {
		return EdgeNone, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	st := &d.buttons[b]
	if st.Pressed == pressed {
		return EdgeNone, false
	}
	st.Pressed = pressed
	st.LastChangeNanos = timeutil.NowNanos(t.clock)
	if pressed {
		return EdgePressed, true
	}
	return EdgeReleased, true
}

// UpdateAxis clamps (x, y) to the axis's range and stores it. Values out of
// range are clamped rather than rejected; NaN is stored as 0.
func (t *Tracker) UpdateAxis(h device.Handle, a Axis, x, y float64) {
	d := t.get(h)
	if d == nil || !a.Valid() {
		return
	}
	x, y = ClampAxis(a, x, y)

	d.mu.Lock()
	defer d.mu.Unlock()
	st := &d.axes[a]
	if st.X == x && st.Y == y {
		return
	}
	st.X, st.Y = x, y
	st.LastChangeNanos = timeutil.NowNanos(t.clock)
}

// ClampAxis limits x and y to [-1,1], or x to [0,1] with y = 0 for
// one-sided axes.
func ClampAxis(a Axis, x, y float64) (float64, float64) {
	if a.OneSided() {
		return clamp(x, 0, 1), 0
	}
	return clamp(x, -1, 1), clamp(y, -1, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}

// ButtonState returns the latest state of button b on h.
func (t *Tracker) ButtonState(h device.Handle, b Button) (ButtonState, error) {
	d := t.get(h)
	if d == nil {
		return ButtonState{}, fmt.Errorf("handle %d: %w", h, device.ErrUnknownDevice)
	}
	if !b.Valid() {
		return ButtonState{}, fmt.Errorf("invalid button %d", b)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buttons[b], nil
}

// AxisState returns the latest clamped value of axis a on h.
func (t *Tracker) AxisState(h device.Handle, a Axis) (AxisState, error) {
	d := t.get(h)
	if d == nil {
		return AxisState{}, fmt.Errorf("handle %d: %w", h, device.ErrUnknownDevice)
	}
	if !a.Valid() {
		return AxisState{}, fmt.Errorf("invalid axis %d", a)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.axes[a], nil
}

// Enqueue queues a hardware event for the next Drain. It never blocks; a
// full queue drops the event and reports false.
func (t *Tracker) Enqueue(ev Event) bool {
	select {
	case t.events <- ev:
		return true
	default:
		monitoring.InputEventsDropped.Inc()
		return false
	}
}

// Drain applies the hardware events queued at the time of the call, in
// arrival order, and returns the button edges they produced. Events that
// arrive while draining wait for the next call.
func (t *Tracker) Drain() []EdgeEvent {
	var edges []EdgeEvent
	for n := len(t.events); n > 0; n-- {
		ev := <-t.events
		switch ev.Type {
		case EventButton:
			if edge, ok := t.UpdateButton(ev.Handle, ev.Button, ev.Pressed); ok {
				edges = append(edges, EdgeEvent{
					Handle:         ev.Handle,
					Button:         ev.Button,
					Edge:           edge,
					TimestampNanos: timeutil.NowNanos(t.clock),
				})
			}
		case EventAxis:
			t.UpdateAxis(ev.Handle, ev.Axis, ev.X, ev.Y)
		}
	}
	return edges
}

// Pending returns the number of queued hardware events.
func (t *Tracker) Pending() int {
	return len(t.events)
}
