package frame

import (
	"github.com/banshee-data/vrtrack/internal/device"
	"github.com/banshee-data/vrtrack/internal/input"
	"github.com/banshee-data/vrtrack/internal/tracking"
)

// DevicePose is one device's entry in a frame snapshot.
type DevicePose struct {
	Handle device.Handle
	Serial string
	Kind   device.Kind

	// Tracked is false when the device had no usable pose this frame; Pose
	// is then the zero value.
	Tracked bool
	// Derived is set when the pose came from an attached reference device.
	Derived bool
	Pose    tracking.PredictedPose
}

// Snapshot is the immutable per-frame view pushed to the host. Consumers
// must not modify it; each frame allocates a new one.
type Snapshot struct {
	Sequence       uint64
	SessionID      string
	TimestampNanos int64
	HorizonMs      float64
	Devices        []DevicePose
	Edges          []input.EdgeEvent

	index map[device.Handle]int
}

func newSnapshot(n int) *Snapshot {
	return &Snapshot{
		Devices: make([]DevicePose, 0, n),
		index:   make(map[device.Handle]int, n),
	}
}

func (s *Snapshot) add(dp DevicePose) {
	s.index[dp.Handle] = len(s.Devices)
	s.Devices = append(s.Devices, dp)
}

// Device returns the entry for h.
func (s *Snapshot) Device(h device.Handle) (DevicePose, bool) {
	if s == nil {
		return DevicePose{}, false
	}
	i, ok := s.index[h]
	if !ok {
		return DevicePose{}, false
	}
	return s.Devices[i], true
}

// Untracked counts devices reported untracked in this frame. Static
// tracking references are never counted.
func (s *Snapshot) Untracked() int {
	n := 0
	for _, d := range s.Devices {
		if !d.Tracked && d.Kind.Tracked() {
			n++
		}
	}
	return n
}
