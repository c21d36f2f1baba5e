package publish

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/vrtrack/internal/device"
	"github.com/banshee-data/vrtrack/internal/frame"
	"github.com/banshee-data/vrtrack/internal/input"
	"github.com/banshee-data/vrtrack/internal/tracking"
)

func testSnapshot(seq uint64) *frame.Snapshot {
	return &frame.Snapshot{
		Sequence:       seq,
		SessionID:      "session-1",
		TimestampNanos: 1_700_000_000_123_456_789,
		HorizonMs:      20,
		Devices: []frame.DevicePose{
			{
				Handle:  1,
				Serial:  "HMD",
				Kind:    device.HMD(),
				Tracked: true,
				Pose: tracking.PredictedPose{
					Pose: tracking.Pose{
						Position:       r3.Vec{Y: 1.6},
						Orientation:    tracking.Identity,
						TimestampNanos: 1_700_000_000_100_000_000,
						Confidence:     0.9,
					},
					HorizonMs: 20,
					Mode:      tracking.SecondOrder,
				},
			},
			{Handle: 2, Serial: "CTL-L", Kind: device.Controller(device.HandLeft)},
		},
		Edges: []input.EdgeEvent{{Handle: 2, Button: input.ButtonTrigger, Edge: input.EdgePressed, TimestampNanos: 5}},
	}
}

// ----------------------------------------------------------------------------
// Publisher
// ----------------------------------------------------------------------------

func TestPublisher_Broadcast(t *testing.T) {
	t.Parallel()
	p := NewPublisher(Config{})
	require.NoError(t, p.Start())
	defer p.Stop()
	assert.Error(t, p.Start())

	a, cancelA, err := p.Subscribe()
	require.NoError(t, err)
	b, cancelB, err := p.Subscribe()
	require.NoError(t, err)
	defer cancelB()
	assert.Equal(t, int32(2), p.Stats().ClientCount)

	snap := testSnapshot(1)
	p.PushFrame(snap)
	p.PushFrame(nil)

	for _, ch := range []<-chan *frame.Snapshot{a, b} {
		select {
		case got := <-ch:
			assert.Same(t, snap, got)
		case <-time.After(2 * time.Second):
			t.Fatal("frame not broadcast")
		}
	}

	cancelA()
	cancelA()
	_, ok := <-a
	assert.False(t, ok)
	assert.Equal(t, int32(1), p.Stats().ClientCount)
	assert.Equal(t, uint64(1), p.Stats().FrameCount)
}

func TestPublisher_NotRunning(t *testing.T) {
	t.Parallel()
	p := NewPublisher(DefaultConfig())
	p.PushFrame(testSnapshot(1))
	assert.Equal(t, uint64(0), p.Stats().FrameCount)
	_, _, err := p.Subscribe()
	assert.Error(t, err)
	p.Stop()
}

func TestPublisher_MaxClientsAndStop(t *testing.T) {
	t.Parallel()
	p := NewPublisher(Config{MaxClients: 1})
	require.NoError(t, p.Start())

	ch, cancel, err := p.Subscribe()
	require.NoError(t, err)
	_, _, err = p.Subscribe()
	assert.Error(t, err)

	p.Stop()
	_, ok := <-ch
	assert.False(t, ok)
	cancel()
	assert.False(t, p.Stats().Running)
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()
	p := NewPublisher(Config{QueueDepth: 1})
	// Running without the broadcast loop so the queue is never drained.
	p.running.Store(true)
	p.PushFrame(testSnapshot(1))
	p.PushFrame(testSnapshot(2))
	assert.Equal(t, uint64(1), p.Stats().FrameCount)
	assert.Equal(t, uint64(1), p.Stats().DroppedFrames)
}

// ----------------------------------------------------------------------------
// Codec
// ----------------------------------------------------------------------------

func TestSnapshotToStruct(t *testing.T) {
	t.Parallel()
	msg, err := SnapshotToStruct(testSnapshot(7), StreamOptions{IncludeEdges: true})
	require.NoError(t, err)

	m := msg.AsMap()
	assert.Equal(t, 7.0, m["sequence"])
	assert.Equal(t, "1700000000123456789", m["timestamp_ns"])
	devices := m["devices"].([]interface{})
	require.Len(t, devices, 2)

	hmd := devices[0].(map[string]interface{})
	assert.Equal(t, "HMD", hmd["serial"])
	assert.Equal(t, "hmd", hmd["kind"])
	pose := hmd["pose"].(map[string]interface{})
	assert.Equal(t, []interface{}{0.0, 1.6, 0.0}, pose["position"])
	assert.Equal(t, "second_order", pose["mode"])

	ctl := devices[1].(map[string]interface{})
	assert.Equal(t, false, ctl["tracked"])
	assert.NotContains(t, ctl, "pose")

	edges := m["edges"].([]interface{})
	require.Len(t, edges, 1)
	assert.Equal(t, "pressed", edges[0].(map[string]interface{})["edge"])
}

func TestStreamOptionsFromRequest(t *testing.T) {
	t.Parallel()
	req, err := structpb.NewStruct(map[string]interface{}{
		"serials":      []interface{}{"CTL-L", ""},
		"tracked_only": true,
	})
	require.NoError(t, err)
	opts := StreamOptionsFromRequest(req)
	assert.Equal(t, map[string]bool{"CTL-L": true}, opts.Serials)
	assert.True(t, opts.TrackedOnly)
	assert.False(t, opts.IncludeEdges)

	m := SnapshotMap(testSnapshot(1), opts)
	assert.Empty(t, m["devices"])
	assert.NotContains(t, m, "edges")

	assert.Equal(t, StreamOptions{}, StreamOptionsFromRequest(nil))
}

// ----------------------------------------------------------------------------
// gRPC
// ----------------------------------------------------------------------------

func TestServer_StreamFrames(t *testing.T) {
	t.Parallel()
	p := NewPublisher(DefaultConfig())
	require.NoError(t, p.Start())
	defer p.Stop()

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(p)
	go srv.Serve(lis)
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := structpb.NewStruct(map[string]interface{}{"serials": []interface{}{"HMD"}})
	require.NoError(t, err)
	recv, err := NewFrameStreamClient(conn).StreamFrames(ctx, req)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return p.Stats().ClientCount == 1 }, 2*time.Second, 10*time.Millisecond)
	p.PushFrame(testSnapshot(3))

	msg, err := recv.Recv()
	require.NoError(t, err)
	m := msg.AsMap()
	assert.Equal(t, 3.0, m["sequence"])
	assert.Equal(t, "session-1", m["session_id"])
	require.Len(t, m["devices"], 1)

	cancel()
	require.Eventually(t, func() bool { return p.Stats().ClientCount == 0 }, 2*time.Second, 10*time.Millisecond)
}
