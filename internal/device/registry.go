package device

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/banshee-data/vrtrack/internal/monitoring"
)

var (
	ErrDuplicateSerial = errors.New("duplicate device serial")
	ErrUnknownDevice   = errors.New("unknown device")
	ErrRegistryFull    = errors.New("device registry full")
	ErrEmptySerial     = errors.New("device serial must not be empty")
)

type entry struct {
	ref Ref
}

// Registry is the authoritative set of live devices. All methods are safe
// for concurrent use; lookups return copies.
type Registry struct {
	mu       sync.RWMutex
	byHandle map[Handle]*entry
	bySerial map[string]Handle
	order    []Handle // registration order of live devices
	next     Handle
	max      int
	nowNanos func() int64
}

// NewRegistry creates an empty registry accepting at most maxDevices live
// registrations (0 means unlimited). nowNanos stamps registration times and
// may be nil.
func NewRegistry(maxDevices int, nowNanos func() int64) *Registry {
	if nowNanos == nil {
		nowNanos = func() int64 { return 0 }
	}
	return &Registry{
		byHandle: make(map[Handle]*entry),
		bySerial: make(map[string]Handle),
		next:     1,
		max:      maxDevices,
		nowNanos: nowNanos,
	}
}

// Register adds a device and returns its handle. Registering a serial that
// is already live fails with ErrDuplicateSerial and leaves the registry
// unchanged.
func (r *Registry) Register(serial string, kind Kind) (Handle, error) {
	if serial == "" {
		return InvalidHandle, ErrEmptySerial
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.bySerial[serial]; ok {
		return InvalidHandle, fmt.Errorf("register %q (already handle %d): %w", serial, h, ErrDuplicateSerial)
	}
	if r.max > 0 && len(r.byHandle) >= r.max {
		return InvalidHandle, fmt.Errorf("register %q: %w (max %d)", serial, ErrRegistryFull, r.max)
	}

	h := r.next
	r.next++
	r.byHandle[h] = &entry{
		ref: Ref{
			Handle:          h,
			Serial:          serial,
			Kind:            kind.normalized(),
			Properties:      make(map[string]string),
			RegisteredNanos: r.nowNanos(),
		},
	}
	r.bySerial[serial] = h
	r.order = append(r.order, h)
	monitoring.RegisteredDevices.Set(float64(len(r.byHandle)))
	return h, nil
}

// Unregister removes a device. Removing an unknown or already removed
// handle is a no-op that logs a warning.
func (r *Registry) Unregister(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byHandle[h]
	if !ok {
		monitoring.Logf("[Registry] unregister handle %d: %v", h, ErrUnknownDevice)
		return
	}
	delete(r.byHandle, h)
	delete(r.bySerial, e.ref.Serial)
	for i, oh := range r.order {
		if oh == h {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	monitoring.RegisteredDevices.Set(float64(len(r.byHandle)))
}

// Lookup returns a copy of the device registered under h.
func (r *Registry) Lookup(h Handle) (Ref, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byHandle[h]
	if !ok {
		return Ref{}, fmt.Errorf("handle %d: %w", h, ErrUnknownDevice)
	}
	return copyRef(e.ref), nil
}

// LookupBySerial returns a copy of the device registered under serial.
func (r *Registry) LookupBySerial(serial string) (Ref, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.bySerial[serial]
	if !ok {
		return Ref{}, fmt.Errorf("serial %q: %w", serial, ErrUnknownDevice)
	}
	return copyRef(r.byHandle[h].ref), nil
}

// SetProperty records a string property on a live device.
func (r *Registry) SetProperty(h Handle, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byHandle[h]
	if !ok {
		return fmt.Errorf("handle %d: %w", h, ErrUnknownDevice)
	}
	e.ref.Properties[key] = value
	return nil
}

// ForEach calls visit for every live device in registration order. The
// visitor receives copies and runs without the registry lock held, so it
// may call back into the registry. Returning false stops iteration.
func (r *Registry) ForEach(visit func(Ref) bool) {
	for _, ref := range r.Snapshot() {
		if !visit(ref) {
			return
		}
	}
}

// Snapshot returns copies of all live devices in registration order.
func (r *Registry) Snapshot() []Ref {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Ref, 0, len(r.order))
	for _, h := range r.order {
		out = append(out, copyRef(r.byHandle[h].ref))
	}
	return out
}

// Len returns the number of live devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}

// Reset releases every registration. The handle counter is kept so handles
// issued before the reset are never handed out again.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byHandle = make(map[Handle]*entry)
	r.bySerial = make(map[string]Handle)
	r.order = nil
	monitoring.RegisteredDevices.Set(0)
}

func copyRef(ref Ref) Ref {
	ref.Properties = maps.Clone(ref.Properties)
	return ref
}
