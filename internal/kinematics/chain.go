package kinematics

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// segment is one joint of a serial chain together with the fixed transform
// from its parent link.
type segment struct {
	name   string
	kind   JointType
	origin Pose
	axis   r3.Vec
}

// Chain is a serial kinematic chain from a base link to a tip link.
type Chain struct {
	Base string
	Tip  string

	segments []segment
	joints   []string
}

// EndEffectorState is the tip pose plus its twist in the base frame.
type EndEffectorState struct {
	Pose
	LinearVelocity  r3.Vec
	AngularVelocity r3.Vec
}

// BuildChain extracts the serial chain from base to tip. It fails when
// either link is unknown, when tip does not descend from base, or when the
// chain has no movable joints.
func BuildChain(desc *Description, base, tip string) (*Chain, error) {
	if desc == nil {
		return nil, ErrEmptyDescription
	}
	if base == "" || tip == "" {
		return nil, fmt.Errorf("base and tip links are required: %w", ErrNoChain)
	}
	for _, name := range []string{base, tip} {
		if !desc.HasLink(name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLink, name)
		}
	}

	byChild := make(map[string]*JointSpec, len(desc.Joints))
	for i := range desc.Joints {
		byChild[desc.Joints[i].Child] = &desc.Joints[i]
	}

	// Walk tip -> base, then reverse.
	var reversed []*JointSpec
	for link := tip; link != base; {
		j, ok := byChild[link]
		if !ok || len(reversed) > len(desc.Joints) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrNoChain, base, tip)
		}
		reversed = append(reversed, j)
		link = j.Parent
	}
	if len(reversed) == 0 {
		return nil, fmt.Errorf("%w: base and tip are both %q", ErrNoChain, base)
	}

	c := &Chain{Base: base, Tip: tip}
	for i := len(reversed) - 1; i >= 0; i-- {
		j := reversed[i]
		seg := segment{
			name:   j.Name,
			kind:   j.Type,
			origin: OriginPose(j.Origin),
		}
		if j.Type.Movable() {
			seg.axis = r3.Unit(r3.Vec{X: j.Axis[0], Y: j.Axis[1], Z: j.Axis[2]})
			c.joints = append(c.joints, j.Name)
		}
		c.segments = append(c.segments, seg)
	}
	if len(c.joints) == 0 {
		return nil, fmt.Errorf("%w: %s -> %s has no movable joints", ErrNoChain, base, tip)
	}
	return c, nil
}

// NumJoints returns the number of movable joints in the chain.
func (c *Chain) NumJoints() int { return len(c.joints) }

// JointNames returns the movable joint names in base-to-tip order.
func (c *Chain) JointNames() []string {
	out := make([]string, len(c.joints))
	copy(out, c.joints)
	return out
}

// Forward computes the tip pose and twist for joint positions q and
// velocities qdot, both in chain order. qdot may be nil for a pose-only
// solution.
func (c *Chain) Forward(q, qdot []float64) (EndEffectorState, error) {
	n := len(c.joints)
	if len(q) != n {
		return EndEffectorState{}, fmt.Errorf("%w: chain has %d joints, got %d positions", ErrJointCount, n, len(q))
	}
	if qdot != nil && len(qdot) != n {
		return EndEffectorState{}, fmt.Errorf("%w: chain has %d joints, got %d velocities", ErrJointCount, n, len(qdot))
	}

	// First pass: pose, accumulating angular velocity and the prismatic
	// contributions. Revolute lever arms need the tip position, so the
	// moment term is summed as Σ ω_i×(p_tip − p_i) = (Σω_i)×p_tip − Σ ω_i×p_i.
	frame := Identity
	var omega, prism, moment r3.Vec
	k := 0
	for _, seg := range c.segments {
		frame = frame.Compose(seg.origin)
		if !seg.kind.Movable() {
			continue
		}

		axis := frame.Rotate(seg.axis)
		var rate float64
		if qdot != nil {
			rate = qdot[k]
		}

		switch seg.kind {
		case Prismatic:
			prism = r3.Add(prism, r3.Scale(rate, axis))
			frame = frame.Compose(Pose{
				Position:    r3.Scale(q[k], seg.axis),
				Orientation: Identity.Orientation,
			})
		default:
			w := r3.Scale(rate, axis)
			omega = r3.Add(omega, w)
			moment = r3.Add(moment, r3.Cross(w, frame.Position))
			frame = frame.Compose(Pose{
				Orientation: axisAngle(seg.axis, q[k]),
			})
		}
		k++
	}

	linear := r3.Add(prism, r3.Sub(r3.Cross(omega, frame.Position), moment))
	return EndEffectorState{
		Pose:            frame,
		LinearVelocity:  linear,
		AngularVelocity: omega,
	}, nil
}
