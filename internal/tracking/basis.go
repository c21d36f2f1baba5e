package tracking

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/vrtrack/internal/config"
)

// Basis is a rigid change of coordinates from the sensor frame to the host
// runtime frame: x_host = R·x_sensor + T.
type Basis struct {
	Rotation    quat.Number
	Translation r3.Vec
}

// IdentityBasis leaves poses unchanged.
func IdentityBasis() Basis {
	return Basis{Rotation: Identity}
}

// BasisFromTuning builds the sensor->host basis from the tuning config.
func BasisFromTuning(cfg *config.TuningConfig) Basis {
	r := cfg.GetBasisRotation()
	t := cfg.GetBasisTranslation()
	q, ok := normalize(quat.Number{Real: r[0], Imag: r[1], Jmag: r[2], Kmag: r[3]})
	if !ok {
		q = Identity
	}
	return Basis{
		Rotation:    q,
		Translation: r3.Vec{X: t[0], Y: t[1], Z: t[2]},
	}
}

func (b Basis) isIdentity() bool {
	return b.Rotation == Identity && b.Translation == (r3.Vec{})
}

// Apply transforms p into the host frame. Derivatives are rotated but not
// translated.
func (b Basis) Apply(p Pose) Pose {
	if b.isIdentity() {
		return p
	}
	out := p
	out.Position = r3.Add(rotate(b.Rotation, p.Position), b.Translation)
	if q, ok := normalize(quat.Mul(b.Rotation, p.Orientation)); ok {
		out.Orientation = q
	}
	out.LinearVelocity = rotate(b.Rotation, p.LinearVelocity)
	out.AngularVelocity = rotate(b.Rotation, p.AngularVelocity)
	out.LinearAcceleration = rotate(b.Rotation, p.LinearAcceleration)
	out.AngularAcceleration = rotate(b.Rotation, p.AngularAcceleration)
	return out
}

// Offset is a fixed rigid transform expressed in the reference device's
// local frame.
type Offset struct {
	Translation r3.Vec
	Rotation    quat.Number
}

// DeriveDependentPose places a device rigidly attached to reference at the
// given offset. No filtering is applied: position is p + R·t, orientation
// is q_ref ⊗ q_off and linear velocity picks up the ω × r lever-arm term.
func DeriveDependentPose(reference Pose, offset Offset) Pose {
	rotOff := offset.Rotation
	if rotOff == (quat.Number{}) {
		rotOff = Identity
	}

	arm := rotate(reference.Orientation, offset.Translation)
	out := reference
	out.Position = r3.Add(reference.Position, arm)
	if q, ok := normalize(quat.Mul(reference.Orientation, rotOff)); ok {
		out.Orientation = q
	}
	out.LinearVelocity = r3.Add(reference.LinearVelocity, r3.Cross(reference.AngularVelocity, arm))
	return out
}
