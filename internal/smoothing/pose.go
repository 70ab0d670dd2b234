package smoothing

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is a position plus orientation. It is a value type: channels replace
// poses wholesale and never mutate them in place.
type Pose struct {
	Position r3.Vec
	Rotation quat.Number
}

// Identity is the unit quaternion with no rotation.
var Identity = quat.Number{Real: 1}

// IdentityPose returns a pose at the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Rotation: Identity}
}

// NewPose builds a pose from VMC argument order: position x, y, z followed
// by quaternion x, y, z, w.
func NewPose(px, py, pz, qx, qy, qz, qw float64) Pose {
	return Pose{
		Position: r3.Vec{X: px, Y: py, Z: pz},
		Rotation: quat.Number{Real: qw, Imag: qx, Jmag: qy, Kmag: qz},
	}
}

// Translate returns the pose moved by offset.
func (p Pose) Translate(offset r3.Vec) Pose {
	p.Position = r3.Add(p.Position, offset)
	return p
}

// LerpFloat interpolates linearly between a and b.
func LerpFloat(a, b, t float64) float64 {
	return a + (b-a)*t
}

// LerpVec interpolates each component linearly between a and b.
func LerpVec(a, b r3.Vec, t float64) r3.Vec {
	return r3.Add(a, r3.Scale(t, r3.Sub(b, a)))
}

// slerpLinearThreshold is the cosine above which slerp degenerates to a
// normalised lerp; sin(theta) is too small to divide by reliably.
const slerpLinearThreshold = 0.9995

// Slerp performs shortest-arc spherical interpolation between unit
// quaternions a and b. The result is normalised.
func Slerp(a, b quat.Number, t float64) quat.Number {
	a = normalize(a)
	b = normalize(b)

	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	// q and -q encode the same rotation; flip to take the short way round.
	if dot < 0 {
		b = quat.Scale(-1, b)
		dot = -dot
	}

	if dot > slerpLinearThreshold {
		return normalize(quat.Add(a, quat.Scale(t, quat.Sub(b, a))))
	}

	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sinTheta
	wb := math.Sin(t*theta) / sinTheta
	return normalize(quat.Add(quat.Scale(wa, a), quat.Scale(wb, b)))
}

// LerpPose interpolates position linearly and rotation along the shortest arc.
func LerpPose(a, b Pose, t float64) Pose {
	return Pose{
		Position: LerpVec(a.Position, b.Position, t),
		Rotation: Slerp(a.Rotation, b.Rotation, t),
	}
}

func normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return Identity
	}
	return quat.Scale(1/n, q)
}
