package sensor

import (
	"sync/atomic"

	"github.com/banshee-data/vrtrack/internal/monitoring"
	"github.com/banshee-data/vrtrack/internal/tracking"
)

// PoseSink accepts pose samples keyed by device serial. The engine resolves
// the serial to a registered handle.
type PoseSink interface {
	IngestSerial(serial string, pose tracking.Pose) error
}

// PoseSinkFunc adapts a function to PoseSink.
type PoseSinkFunc func(serial string, pose tracking.Pose) error

func (f PoseSinkFunc) IngestSerial(serial string, pose tracking.Pose) error { return f(serial, pose) }

// Stats counts packets seen by a receiver.
type Stats struct {
	Packets   atomic.Int64
	Bytes     atomic.Int64
	Malformed atomic.Int64
	Rejected  atomic.Int64
}

// LogStats writes the counters with the given source tag.
func (s *Stats) LogStats(source string) {
	monitoring.Logf("[Sensor] %s: packets=%d bytes=%d malformed=%d rejected=%d",
		source, s.Packets.Load(), s.Bytes.Load(), s.Malformed.Load(), s.Rejected.Load())
}

// deliver decodes one packet and passes it to sink, updating stats.
func deliver(sink PoseSink, stats *Stats, packet []byte) error {
	stats.Packets.Add(1)
	stats.Bytes.Add(int64(len(packet)))

	serial, pose, err := DecodePose(packet)
	if err != nil {
		stats.Malformed.Add(1)
		return err
	}
	if err := sink.IngestSerial(serial, pose); err != nil {
		stats.Rejected.Add(1)
		return err
	}
	return nil
}
