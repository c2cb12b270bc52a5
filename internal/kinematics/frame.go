package kinematics

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is a position plus a unit-quaternion orientation.
type Pose struct {
	Position    r3.Vec
	Orientation quat.Number
}

// Identity is the pose at the origin with no rotation.
var Identity = Pose{Orientation: quat.Number{Real: 1}}

// Rotate applies the pose orientation to v.
func (p Pose) Rotate(v r3.Vec) r3.Vec {
	return r3.Rotation(p.Orientation).Rotate(v)
}

// Compose returns p followed by q, with q expressed in p's frame.
func (p Pose) Compose(q Pose) Pose {
	return Pose{
		Position:    r3.Add(p.Position, p.Rotate(q.Position)),
		Orientation: quat.Mul(p.Orientation, q.Orientation),
	}
}

// OriginPose converts a description origin into a pose. Roll, pitch and yaw
// are fixed-axis rotations about x, y and z applied in that order.
func OriginPose(o Origin) Pose {
	return Pose{
		Position:    r3.Vec{X: o.XYZ[0], Y: o.XYZ[1], Z: o.XYZ[2]},
		Orientation: FromRPY(o.RPY[0], o.RPY[1], o.RPY[2]),
	}
}

// FromRPY returns the quaternion for Rz(yaw)·Ry(pitch)·Rx(roll).
func FromRPY(roll, pitch, yaw float64) quat.Number {
	qx := axisAngle(r3.Vec{X: 1}, roll)
	qy := axisAngle(r3.Vec{Y: 1}, pitch)
	qz := axisAngle(r3.Vec{Z: 1}, yaw)
	return quat.Mul(qz, quat.Mul(qy, qx))
}

func axisAngle(axis r3.Vec, angle float64) quat.Number {
	return quat.Number(r3.NewRotation(angle, axis))
}

// IsUnitQuaternion reports whether q is finite and has norm 1 within tol.
func IsUnitQuaternion(q quat.Number, tol float64) bool {
	if quat.IsNaN(q) || quat.IsInf(q) {
		return false
	}
	return math.Abs(quat.Abs(q)-1) <= tol
}

// IsFiniteVec reports whether every component of v is finite.
func IsFiniteVec(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
