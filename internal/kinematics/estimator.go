package kinematics

import (
	"errors"
	"fmt"
)

var (
	// ErrJointMismatch is returned when configured joint names do not match
	// the chain's movable joints.
	ErrJointMismatch = errors.New("joint names do not match kinematic chain")
	// ErrJointCount is returned when a joint sample has the wrong length.
	ErrJointCount = errors.New("joint sample count mismatch")
	// ErrNonFinite is returned when forward kinematics yields NaN or Inf.
	ErrNonFinite = errors.New("non-finite kinematics result")
)

// JointState is one sample of joint positions and velocities, ordered as the
// joint names given to NewPoseEstimator.
type JointState struct {
	Positions  []float64 `json:"position"`
	Velocities []float64 `json:"velocity"`
}

// Clone returns a deep copy of s.
func (s JointState) Clone() JointState {
	return JointState{
		Positions:  append([]float64(nil), s.Positions...),
		Velocities: append([]float64(nil), s.Velocities...),
	}
}

// PoseEstimator maps joint samples in configured order onto a chain.
// Estimate reuses internal buffers, so a PoseEstimator must not be shared
// between goroutines.
type PoseEstimator struct {
	chain *Chain
	names []string
	// perm[i] is the index in the configured sample of chain joint i.
	perm []int
	q    []float64
	qdot []float64
}

// NewPoseEstimator validates that jointNames is a permutation of the chain's
// movable joints and returns an estimator for samples in that order.
func NewPoseEstimator(chain *Chain, jointNames []string) (*PoseEstimator, error) {
	if chain == nil {
		return nil, fmt.Errorf("%w: nil chain", ErrNoChain)
	}
	if len(jointNames) == 0 {
		return nil, fmt.Errorf("%w: joint name list is empty", ErrJointMismatch)
	}
	if len(jointNames) != chain.NumJoints() {
		return nil, fmt.Errorf("%w: %d names configured, chain %s -> %s has %d joints",
			ErrJointMismatch, len(jointNames), chain.Base, chain.Tip, chain.NumJoints())
	}

	index := make(map[string]int, len(jointNames))
	for i, name := range jointNames {
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("%w: duplicate joint %q", ErrJointMismatch, name)
		}
		index[name] = i
	}

	perm := make([]int, chain.NumJoints())
	for i, name := range chain.joints {
		idx, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w: chain joint %q not configured", ErrJointMismatch, name)
		}
		perm[i] = idx
	}

	return &PoseEstimator{
		chain: chain,
		names: append([]string(nil), jointNames...),
		perm:  perm,
		q:     make([]float64, len(perm)),
		qdot:  make([]float64, len(perm)),
	}, nil
}

// Chain returns the underlying chain.
func (e *PoseEstimator) Chain() *Chain { return e.chain }

// JointNames returns the configured sample order.
func (e *PoseEstimator) JointNames() []string {
	return append([]string(nil), e.names...)
}

// Estimate computes the end-effector state for one joint sample.
func (e *PoseEstimator) Estimate(js JointState) (EndEffectorState, error) {
	n := len(e.perm)
	if len(js.Positions) != n || len(js.Velocities) != n {
		return EndEffectorState{}, fmt.Errorf("%w: want %d, got %d positions and %d velocities",
			ErrJointCount, n, len(js.Positions), len(js.Velocities))
	}
	for i, src := range e.perm {
		e.q[i] = js.Positions[src]
		e.qdot[i] = js.Velocities[src]
	}

	st, err := e.chain.Forward(e.q, e.qdot)
	if err != nil {
		return EndEffectorState{}, err
	}
	if !IsFiniteVec(st.Position) || !IsFiniteVec(st.LinearVelocity) || !IsUnitQuaternion(st.Orientation, 1e-6) {
		return EndEffectorState{}, ErrNonFinite
	}
	return st, nil
}
