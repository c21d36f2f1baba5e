package publish

import (
	"strconv"

	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/vrtrack/internal/frame"
	"github.com/banshee-data/vrtrack/internal/tracking"
)

// StreamOptions filter what a consumer receives.
type StreamOptions struct {
	// Serials restricts devices to these serials. Empty means all.
	Serials      map[string]bool
	IncludeEdges bool
	// TrackedOnly omits untracked devices.
	TrackedOnly bool
}

// StreamOptionsFromRequest reads options from a StreamFrames request:
// {"serials": [...], "include_edges": bool, "tracked_only": bool}.
func StreamOptionsFromRequest(req *structpb.Struct) StreamOptions {
	var opts StreamOptions
	if req == nil {
		return opts
	}
	fields := req.GetFields()
	if list := fields["serials"].GetListValue(); list != nil {
		opts.Serials = make(map[string]bool)
		for _, v := range list.GetValues() {
			if s := v.GetStringValue(); s != "" {
				opts.Serials[s] = true
			}
		}
	}
	opts.IncludeEdges = fields["include_edges"].GetBoolValue()
	opts.TrackedOnly = fields["tracked_only"].GetBoolValue()
	return opts
}

func vec(v r3.Vec) []interface{} {
	return []interface{}{v.X, v.Y, v.Z}
}

func poseMap(pp tracking.PredictedPose) map[string]interface{} {
	p := pp.Pose
	q := p.Orientation
	return map[string]interface{}{
		"position":         vec(p.Position),
		"orientation":      []interface{}{q.Real, q.Imag, q.Jmag, q.Kmag},
		"linear_velocity":  vec(p.LinearVelocity),
		"angular_velocity": vec(p.AngularVelocity),
		"confidence":       p.Confidence,
		"timestamp_ns":     strconv.FormatInt(p.TimestampNanos, 10),
		"horizon_ms":       pp.HorizonMs,
		"mode":             pp.Mode.String(),
		"stale":            pp.Stale,
	}
}

// SnapshotMap renders snap as a JSON-compatible map. Nanosecond timestamps
// are strings because they exceed float64 integer precision.
func SnapshotMap(snap *frame.Snapshot, opts StreamOptions) map[string]interface{} {
	devices := make([]interface{}, 0, len(snap.Devices))
	for _, d := range snap.Devices {
		if len(opts.Serials) > 0 && !opts.Serials[d.Serial] {
			continue
		}
		if opts.TrackedOnly && !d.Tracked {
			continue
		}
		m := map[string]interface{}{
			"handle":  float64(d.Handle),
			"serial":  d.Serial,
			"kind":    d.Kind.String(),
			"tracked": d.Tracked,
			"derived": d.Derived,
		}
		if d.Tracked {
			m["pose"] = poseMap(d.Pose)
		}
		devices = append(devices, m)
	}

	out := map[string]interface{}{
		"sequence":     float64(snap.Sequence),
		"session_id":   snap.SessionID,
		"timestamp_ns": strconv.FormatInt(snap.TimestampNanos, 10),
		"horizon_ms":   snap.HorizonMs,
		"devices":      devices,
	}
	if opts.IncludeEdges {
		edges := make([]interface{}, 0, len(snap.Edges))
		for _, e := range snap.Edges {
			edges = append(edges, map[string]interface{}{
				"handle":       float64(e.Handle),
				"button":       e.Button.String(),
				"edge":         e.Edge.String(),
				"timestamp_ns": strconv.FormatInt(e.TimestampNanos, 10),
			})
		}
		out["edges"] = edges
	}
	return out
}

// SnapshotToStruct converts snap to the wire message of StreamFrames.
func SnapshotToStruct(snap *frame.Snapshot, opts StreamOptions) (*structpb.Struct, error) {
	return structpb.NewStruct(SnapshotMap(snap, opts))
}
