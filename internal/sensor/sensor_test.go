package sensor

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vrtrack/internal/config"
	"github.com/banshee-data/vrtrack/internal/device"
	"github.com/banshee-data/vrtrack/internal/frame"
	"github.com/banshee-data/vrtrack/internal/settings"
	"github.com/banshee-data/vrtrack/internal/timeutil"
	"github.com/banshee-data/vrtrack/internal/tracking"
)

type recordingSink struct {
	mu      sync.Mutex
	serials []string
	poses   []tracking.Pose
	err     error
	got     chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan struct{}, 64)}
}

func (s *recordingSink) IngestSerial(serial string, pose tracking.Pose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.serials = append(s.serials, serial)
	s.poses = append(s.poses, pose)
	select {
	case s.got <- struct{}{}:
	default:
	}
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.poses)
}

// samplePose uses values exactly representable as float32.
func samplePose(ts int64) tracking.Pose {
	return tracking.Pose{
		Position:            r3.Vec{X: 0.5, Y: 1.5, Z: -0.25},
		Orientation:         quat.Number{Real: 1},
		LinearVelocity:      r3.Vec{X: 0.125},
		AngularVelocity:     r3.Vec{Y: 2},
		LinearAcceleration:  r3.Vec{Z: -9.75},
		AngularAcceleration: r3.Vec{X: 0.5},
		TimestampNanos:      ts,
		Confidence:          0.75,
	}
}

// ----------------------------------------------------------------------------
// Codec
// ----------------------------------------------------------------------------

func TestEncodeDecodePose(t *testing.T) {
	t.Parallel()
	want := samplePose(1_234_567_890)

	buf, err := EncodePose("HMD-001", want)
	require.NoError(t, err)
	assert.Len(t, buf, PacketSize("HMD-001"))
	assert.Equal(t, PacketMagic, string(buf[:4]))

	serial, got, err := DecodePose(buf)
	require.NoError(t, err)
	assert.Equal(t, "HMD-001", serial)
	assert.Equal(t, want, got)
}

func TestDecodePose_Malformed(t *testing.T) {
	t.Parallel()
	good, err := EncodePose("CTL", samplePose(1))
	require.NoError(t, err)

	badMagic := append([]byte(nil), good...)
	copy(badMagic, "XXXX")
	zeroSerial := append([]byte(nil), good...)
	zeroSerial[16] = 0

	for name, buf := range map[string][]byte{
		"empty":       nil,
		"short":       good[:10],
		"bad magic":   badMagic,
		"zero serial": zeroSerial,
		"truncated":   good[:len(good)-1],
		"trailing":    append(append([]byte(nil), good...), 0),
	} {
		_, _, err := DecodePose(buf)
		assert.ErrorIs(t, err, ErrBadPacket, name)
	}
}

func TestEncodePose_SerialBounds(t *testing.T) {
	t.Parallel()
	_, err := EncodePose("", samplePose(1))
	assert.Error(t, err)
	long := make([]byte, MaxSerialLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = EncodePose(string(long), samplePose(1))
	assert.Error(t, err)
}

// ----------------------------------------------------------------------------
// UDP
// ----------------------------------------------------------------------------

func TestUDPListener_DeliversPackets(t *testing.T) {
	t.Parallel()
	sink := newRecordingSink()
	l := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:0", Sink: sink})
	require.NoError(t, l.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()

	conn, err := net.Dial("udp", l.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	pkt, err := EncodePose("CTL-L", samplePose(42))
	require.NoError(t, err)
	_, err = conn.Write([]byte("junk"))
	require.NoError(t, err)
	_, err = conn.Write(pkt)
	require.NoError(t, err)

	select {
	case <-sink.got:
	case <-time.After(2 * time.Second):
		t.Fatal("packet not delivered")
	}
	assert.Equal(t, []string{"CTL-L"}, sink.serials)
	assert.Equal(t, int64(42), sink.poses[0].TimestampNanos)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	assert.Equal(t, int64(2), l.Stats.Packets.Load())
	assert.Equal(t, int64(1), l.Stats.Malformed.Load())
}

func TestUDPListener_RequiresSink(t *testing.T) {
	t.Parallel()
	l := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:0"})
	assert.Error(t, l.Listen())
	assert.Nil(t, l.LocalAddr())
	assert.Error(t, l.Serve(context.Background()))
}

// ----------------------------------------------------------------------------
// PCAP replay
// ----------------------------------------------------------------------------

func writePCAP(t *testing.T, payloads map[uint16][][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "poses.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	ts := time.Unix(1700000000, 0)
	for port, list := range payloads {
		for _, payload := range list {
			eth := &layers.Ethernet{
				SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
				DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
				EthernetType: layers.EthernetTypeIPv4,
			}
			ip := &layers.IPv4{
				Version:  4,
				TTL:      64,
				Protocol: layers.IPProtocolUDP,
				SrcIP:    net.IP{192, 168, 1, 10},
				DstIP:    net.IP{192, 168, 1, 20},
			}
			udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(port)}
			require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

			buf := gopacket.NewSerializeBuffer()
			opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
			require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))

			data := buf.Bytes()
			ts = ts.Add(time.Millisecond)
			require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
				Timestamp:     ts,
				CaptureLength: len(data),
				Length:        len(data),
			}, data))
		}
	}
	return path
}

func TestReplayPCAP_FiltersByPort(t *testing.T) {
	t.Parallel()
	a, err := EncodePose("HMD", samplePose(1))
	require.NoError(t, err)
	b, err := EncodePose("HMD", samplePose(2))
	require.NoError(t, err)
	other, err := EncodePose("OTHER", samplePose(3))
	require.NoError(t, err)

	path := writePCAP(t, map[uint16][][]byte{
		9750: {a, []byte("noise"), b},
		9999: {other},
	})

	sink := newRecordingSink()
	stats, err := ReplayPCAP(context.Background(), path, ReplayOptions{Port: 9750}, sink)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Packets.Load())
	assert.Equal(t, int64(1), stats.Malformed.Load())
	require.Equal(t, 2, sink.count())
	assert.Equal(t, []string{"HMD", "HMD"}, sink.serials)

	all := newRecordingSink()
	_, err = ReplayPCAP(context.Background(), path, ReplayOptions{}, all)
	require.NoError(t, err)
	assert.Equal(t, 3, all.count())
}

func TestReplayPCAP_Errors(t *testing.T) {
	t.Parallel()
	_, err := ReplayPCAP(context.Background(), filepath.Join(t.TempDir(), "missing.pcap"), ReplayOptions{}, newRecordingSink())
	assert.Error(t, err)

	notPCAP := filepath.Join(t.TempDir(), "bad.pcap")
	require.NoError(t, os.WriteFile(notPCAP, []byte("definitely not a capture"), 0o644))
	_, err = ReplayPCAP(context.Background(), notPCAP, ReplayOptions{}, newRecordingSink())
	assert.Error(t, err)

	pkt, err := EncodePose("HMD", samplePose(1))
	require.NoError(t, err)
	path := writePCAP(t, map[uint16][][]byte{9750: {pkt}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ReplayPCAP(ctx, path, ReplayOptions{}, newRecordingSink())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplayPCAP_SinkRejection(t *testing.T) {
	t.Parallel()
	pkt, err := EncodePose("GONE", samplePose(1))
	require.NoError(t, err)
	path := writePCAP(t, map[uint16][][]byte{9750: {pkt}})

	sink := newRecordingSink()
	sink.err = errors.New("unknown device")
	stats, err := ReplayPCAP(context.Background(), path, ReplayOptions{Realtime: true}, sink)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Rejected.Load())
}

type discardHost struct{}

func (discardHost) PushFrame(*frame.Snapshot) {}

func TestReplayPCAP_RebasesOntoEngineClock(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_800_000_000, 0)
	clock := timeutil.NewMockClock(now)
	c := frame.New()
	require.NoError(t, c.Initialize(frame.Config{
		Settings: settings.NewAdapter(settings.NewMemoryStore()),
		Tuning:   config.DefaultTuningConfig(),
		Host:     discardHost{},
		Clock:    clock,
	}))
	t.Cleanup(func() { c.Shutdown() })
	h, err := c.RegisterDevice("HMD", device.HMD())
	require.NoError(t, err)

	// Recorded an hour before the engine's "now", 10 ms apart.
	recorded := now.Add(-time.Hour).UnixNano()
	first := samplePose(recorded)
	first.Confidence = 1
	second := samplePose(recorded + int64(10*time.Millisecond))
	second.Confidence = 1
	a, err := EncodePose("HMD", first)
	require.NoError(t, err)
	b, err := EncodePose("HMD", second)
	require.NoError(t, err)
	path := writePCAP(t, map[uint16][][]byte{9750: {a, b}})

	opts := ReplayOptions{Port: 9750, Realtime: true, Clock: clock}
	stats, err := ReplayPCAP(context.Background(), path, opts, c)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Rejected.Load())

	raw, err := c.RawPose(h)
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Millisecond).UnixNano(), raw.TimestampNanos)

	require.NoError(t, c.RunFrame())
	got, err := c.PoseSnapshot(h)
	require.NoError(t, err)
	assert.Equal(t, tracking.SecondOrder, got.Mode)
	assert.False(t, got.Stale)

	// Replaying the same file later is not dropped as out of order.
	clock.Advance(time.Second)
	_, err = ReplayPCAP(context.Background(), path, opts, c)
	require.NoError(t, err)
	raw, err = c.RawPose(h)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Second+10*time.Millisecond).UnixNano(), raw.TimestampNanos)
}

// ----------------------------------------------------------------------------
// MQTT
// ----------------------------------------------------------------------------

func TestMQTTSubscriber_HandleMessage(t *testing.T) {
	t.Parallel()
	sink := newRecordingSink()
	s := NewMQTTSubscriber(MQTTConfig{Broker: "tcp://localhost:1883", TopicPrefix: "rig/pose/"}, sink)
	assert.Equal(t, "rig/pose/+", s.Topic())

	payload := []byte(`{"t":99,"confidence":0.9,"position":[0,1.6,0],"orientation":[1,0,0,0],"angular_velocity":[0,1,0]}`)
	require.NoError(t, s.HandleMessage("rig/pose/HMD-1", payload))
	require.Equal(t, 1, sink.count())
	assert.Equal(t, "HMD-1", sink.serials[0])
	assert.Equal(t, r3.Vec{Y: 1.6}, sink.poses[0].Position)
	assert.Equal(t, r3.Vec{Y: 1}, sink.poses[0].AngularVelocity)
	assert.Equal(t, 0.9, sink.poses[0].Confidence)

	tests := map[string]struct {
		topic   string
		payload string
	}{
		"wrong prefix":       {"other/HMD", string(payload)},
		"nested topic":       {"rig/pose/a/b", string(payload)},
		"bad json":           {"rig/pose/HMD", "{"},
		"missing timestamp":  {"rig/pose/HMD", `{"confidence":1}`},
		"missing confidence": {"rig/pose/HMD", `{"t":5}`},
	}
	for name, tt := range tests {
		assert.Error(t, s.HandleMessage(tt.topic, []byte(tt.payload)), name)
	}
	assert.Equal(t, int64(5), s.Stats.Malformed.Load())
	assert.Equal(t, 1, sink.count())
}

func TestMQTTSubscriber_Defaults(t *testing.T) {
	t.Parallel()
	s := NewMQTTSubscriber(MQTTConfig{}, newRecordingSink())
	assert.Equal(t, DefaultTopicPrefix+"/+", s.Topic())
	s.Close()
}
