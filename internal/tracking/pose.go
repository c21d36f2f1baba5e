// Package tracking turns raw pose samples from the sensor subsystem into
// predicted poses in the host runtime's coordinate frame.
package tracking

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is a single sample of a tracked object's state. Angular quantities
// are expressed in the world frame in rad/s and rad/s². Once ingested a
// Pose is never mutated; newer samples replace it.
type Pose struct {
	Position            r3.Vec
	Orientation         quat.Number // unit quaternion
	LinearVelocity      r3.Vec
	AngularVelocity     r3.Vec
	LinearAcceleration  r3.Vec
	AngularAcceleration r3.Vec
	TimestampNanos      int64
	Confidence          float64 // [0,1]
}

// Identity is the unrotated orientation.
var Identity = quat.Number{Real: 1}

// Mode is the extrapolation order chosen for a prediction.
type Mode int

const (
	ZeroOrder Mode = iota
	FirstOrder
	SecondOrder
)

func (m Mode) String() string {
	switch m {
	case FirstOrder:
		return "first_order"
	case SecondOrder:
		return "second_order"
	default:
		return "zero_order"
	}
}

// PredictedPose is a Pose extrapolated to a horizon and transformed into
// the host frame. Stale is set when the requested horizon exceeded the
// configured clamp and the zero-order hold was returned instead.
type PredictedPose struct {
	Pose      Pose
	HorizonMs float64
	Mode      Mode
	Stale     bool
}

// normalize returns q scaled to unit length. ok is false when q has zero
// or non-finite magnitude.
func normalize(q quat.Number) (quat.Number, bool) {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return q, false
	}
	if n == 1 {
		return q, true
	}
	return quat.Scale(1/n, q), true
}

func finiteVec(v r3.Vec) bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (p Pose) isFinite() bool {
	q := p.Orientation
	return finiteVec(p.Position) &&
		finiteVec(p.LinearVelocity) && finiteVec(p.AngularVelocity) &&
		finiteVec(p.LinearAcceleration) && finiteVec(p.AngularAcceleration) &&
		finite(q.Real) && finite(q.Imag) && finite(q.Jmag) && finite(q.Kmag) &&
		finite(p.Confidence)
}

// rotate applies the unit quaternion q to v.
func rotate(q quat.Number, v r3.Vec) r3.Vec {
	return r3.Rotation(q).Rotate(v)
}

// integrate advances orientation q by the world-frame rotation vector theta
// using the quaternion exponential map.
func integrate(q quat.Number, theta r3.Vec) quat.Number {
	if theta == (r3.Vec{}) {
		return q
	}
	half := quat.Number{Imag: theta.X / 2, Jmag: theta.Y / 2, Kmag: theta.Z / 2}
	out, ok := normalize(quat.Mul(quat.Exp(half), q))
	if !ok {
		return q
	}
	return out
}
