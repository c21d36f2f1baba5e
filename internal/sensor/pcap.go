package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/vrtrack/internal/monitoring"
	"github.com/banshee-data/vrtrack/internal/timeutil"
	"github.com/banshee-data/vrtrack/internal/tracking"
)

// ReplayOptions controls ReplayPCAP.
type ReplayOptions struct {
	// Port keeps only UDP datagrams sent to this port. Zero keeps all.
	Port int
	// Realtime sleeps between packets to reproduce the capture timing.
	Realtime bool
	// Clock stamps the replayed samples. Nil means the system clock; pass
	// the engine's clock so sample ages are measured on the same timeline.
	Clock timeutil.Clock
}

// ReplayPCAP feeds the pose packets recorded in a pcap file to sink. It
// returns when the file is exhausted or ctx is cancelled.
func ReplayPCAP(ctx context.Context, path string, opts ReplayOptions, sink PoseSink) (*Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCAP header from %s: %w", path, err)
	}
	return replay(ctx, r, r.LinkType(), opts, sink)
}

func replay(ctx context.Context, src gopacket.PacketDataSource, link layers.LinkType, opts ReplayOptions, sink PoseSink) (*Stats, error) {
	stats := &Stats{}
	sink = rebase(sink, opts.Clock)
	source := gopacket.NewPacketSource(src, link)
	source.NoCopy = true

	start := time.Now()
	var firstCapture time.Time

	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("[Sensor] PCAP replay cancelled after %d packets", stats.Packets.Load())
			return stats, err
		}

		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			monitoring.Logf("[Sensor] PCAP replay complete: %d packets in %v", stats.Packets.Load(), time.Since(start))
			return stats, nil
		}
		if err != nil {
			// A truncated final record ends the replay cleanly.
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return stats, nil
			}
			return stats, fmt.Errorf("failed to read packet: %w", err)
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if opts.Port != 0 && int(udp.DstPort) != opts.Port {
			continue
		}

		if opts.Realtime {
			ts := packet.Metadata().Timestamp
			if firstCapture.IsZero() {
				firstCapture = ts
			}
			if wait := ts.Sub(firstCapture) - time.Since(start); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return stats, ctx.Err()
				case <-timer.C:
				}
			}
		}

		if err := deliver(sink, stats, udp.Payload); err != nil {
			monitoring.Logf("[Sensor] PCAP packet %d: %v", stats.Packets.Load(), err)
		}
	}
}

// rebase shifts sample timestamps onto the replay timeline: the first
// delivered sample is stamped with the clock's current time and later ones
// keep their recorded spacing.
func rebase(sink PoseSink, clock timeutil.Clock) PoseSink {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	var offset int64
	first := true
	return PoseSinkFunc(func(serial string, pose tracking.Pose) error {
		if first {
			offset = timeutil.NowNanos(clock) - pose.TimestampNanos
			first = false
		}
		pose.TimestampNanos += offset
		return sink.IngestSerial(serial, pose)
	})
}
