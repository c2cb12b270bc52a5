// Package palpation implements the four-phase palpation controller: move to a
// grid cell, descend to the tissue surface, probe with a sinusoid, then
// retract before advancing to the next cell.
//
// A Controller is driven by a single periodic task calling Step. Step does a
// bounded amount of work, takes no locks and never blocks.
package palpation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/palpation/internal/kinematics"
	"github.com/banshee-data/palpation/internal/monitoring"
	"github.com/banshee-data/palpation/internal/wrench"
)

var (
	// ErrNotConfigured is returned by Activate before a successful Configure.
	ErrNotConfigured = errors.New("palpation controller not configured")
	// ErrNotActive is returned by Step outside the active lifecycle state.
	ErrNotActive = errors.New("palpation controller not active")
	// ErrAlreadyActive is returned by Configure and Activate while active.
	ErrAlreadyActive = errors.New("palpation controller already active")
)

// Estimator turns a joint sample into an end-effector state.
type Estimator interface {
	Estimate(kinematics.JointState) (kinematics.EndEffectorState, error)
}

// WrenchSource is the controller's view of the force feed.
type WrenchSource interface {
	CorrectedFz() float64
	Bias() wrench.Bias
	ResetBias()
	SetSampling(bool)
}

// State is the controller-owned per-activation state.
type State struct {
	Phase        Phase
	Start        r3.Vec
	Grid         r3.Vec
	Target       kinematics.Pose
	Index        int
	Contact      bool
	PhaseEntered time.Time
	Activated    time.Time
	Complete     bool
	Session      string
}

// Input is what the driver supplies each cycle.
type Input struct {
	Time   time.Time
	Joints kinematics.JointState
}

// Output is what one cycle produces.
type Output struct {
	Command PoseCommand
	Record  Record
	Phase   Phase
	// ClearBacklog asks the telemetry path to drop queued records. It is set
	// on the cycle that ends a Palpate phase.
	ClearBacklog bool
	Complete     bool
}

// Controller is the palpation state machine.
type Controller struct {
	cfg       Config
	seq       GridSequencer
	est       Estimator
	wr        WrenchSource
	lifecycle Lifecycle
	st        State

	contactLog rate.Sometimes
	errLog     rate.Sometimes
	logf       func(format string, v ...interface{})
}

// NewController returns an unconfigured controller reading force from wr.
func NewController(wr WrenchSource) *Controller {
	return &Controller{
		wr:         wr,
		contactLog: rate.Sometimes{Interval: time.Second},
		errLog:     rate.Sometimes{Interval: time.Second},
		logf:       monitoring.Component("Palpation"),
	}
}

// Configure validates cfg and binds the pose estimator. It leaves the
// controller inactive and may be called again while inactive.
func (c *Controller) Configure(cfg Config, est Estimator) error {
	if c.lifecycle == Active {
		return ErrAlreadyActive
	}
	if est == nil {
		return &ConfigError{Field: "Estimator", Reason: "is required"}
	}
	if c.wr == nil {
		return &ConfigError{Field: "WrenchSource", Reason: "is required"}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	c.seq = cfg.Sequencer()
	c.est = est
	c.lifecycle = Inactive
	return nil
}

// Config returns the active configuration.
func (c *Controller) Config() Config { return c.cfg }

// Lifecycle returns the activation state.
func (c *Controller) Lifecycle() Lifecycle { return c.lifecycle }

// State returns a copy of the controller state.
func (c *Controller) State() State { return c.st }

// Activate captures the current pose as the start position and begins the
// raster at cell 0. On error the controller stays inactive with its previous
// state untouched.
func (c *Controller) Activate(js kinematics.JointState, now time.Time) error {
	switch c.lifecycle {
	case Unconfigured:
		return ErrNotConfigured
	case Active:
		return ErrAlreadyActive
	}

	ee, err := c.est.Estimate(js)
	if err != nil {
		return fmt.Errorf("activate: initial pose: %w", err)
	}

	start := ee.Position
	c.st = State{
		Phase:        GridMove,
		Start:        start,
		Grid:         start,
		Target:       kinematics.Pose{Position: start, Orientation: c.cfg.Orientation},
		PhaseEntered: now,
		Activated:    now,
		Session:      uuid.NewString(),
	}
	c.wr.SetSampling(false)
	c.lifecycle = Active

	monitoring.PalpationIndex.Set(0)
	monitoring.SequenceComplete.Set(0)
	c.logf("activated session %s at start (%.5f, %.5f, %.5f), surface stop z=%.5f",
		c.st.Session, start.X, start.Y, start.Z, c.cfg.SurfaceHeight(start.Z))
	return nil
}

// Deactivate stops the controller. State is discarded on the next Activate.
func (c *Controller) Deactivate() {
	if c.lifecycle != Active {
		return
	}
	c.wr.SetSampling(false)
	c.lifecycle = Inactive
	c.logf("deactivated session %s at index %d in %s", c.st.Session, c.st.Index, c.st.Phase)
}

// Step runs one control cycle. A kinematics failure returns an error and no
// command; the controller state is left as it was.
func (c *Controller) Step(in Input) (Output, error) {
	if c.lifecycle != Active {
		return Output{}, ErrNotActive
	}

	ee, err := c.est.Estimate(in.Joints)
	if err != nil {
		monitoring.KinematicsErrors.Inc()
		c.errLog.Do(func() { c.logf("kinematics failed, no command this cycle: %v", err) })
		return Output{}, fmt.Errorf("step: %w", err)
	}

	if !c.st.Complete && c.seq.Complete(c.st.Start, c.st.Grid) {
		c.st.Complete = true
		c.wr.SetSampling(false)
		monitoring.SequenceComplete.Set(1)
		c.logf("end of palpation: grid x %.5f beyond start x %.5f + %.4f after %d cells",
			c.st.Grid.X, c.st.Start.X, c.seq.XBound, c.st.Index)
	}

	var clear bool
	if !c.st.Complete {
		clear = c.advance(ee.Position, in.Time)
	}

	fz := c.wr.CorrectedFz()
	monitoring.CycleTotal.WithLabelValues(c.st.Phase.String()).Inc()
	return Output{
		Command: PoseCommand{
			Stamp:   in.Time,
			FrameID: c.cfg.FrameID,
			Pose:    c.st.Target,
		},
		Record:       buildRecord(&c.st, in.Time, ee, fz),
		Phase:        c.st.Phase,
		ClearBacklog: clear,
		Complete:     c.st.Complete,
	}, nil
}

// advance runs the current phase and reports whether the telemetry backlog
// should be cleared.
func (c *Controller) advance(cur r3.Vec, now time.Time) bool {
	switch c.st.Phase {
	case GridMove:
		c.gridMove(cur, now)
	case Approach:
		c.approach(cur, now)
	case Palpate:
		return c.palpate(now)
	case Retract:
		c.retract(cur, now)
	}
	return false
}

func (c *Controller) gridMove(cur r3.Vec, now time.Time) {
	step, tol := c.cfg.GridMoveStep(), c.cfg.PositionTolerance
	t := &c.st.Target.Position
	t.X = moveAxis(t.X, c.st.Grid.X, step, tol)
	t.Y = moveAxis(t.Y, c.st.Grid.Y, step, tol)
	t.Z = c.st.Start.Z

	if math.Abs(cur.X-c.st.Grid.X) < tol && math.Abs(cur.Y-c.st.Grid.Y) < tol {
		c.logf("cell %d reached at (%.5f, %.5f), previous bias %.4f N",
			c.st.Index, c.st.Grid.X, c.st.Grid.Y, c.wr.Bias().Value)
		c.wr.ResetBias()
		c.wr.SetSampling(true)
		c.enter(Approach, now)
	}
}

func (c *Controller) approach(cur r3.Vec, now time.Time) {
	if c.wr.CorrectedFz() < c.cfg.ContactThreshold {
		if !c.st.Contact {
			monitoring.ContactEvents.Inc()
		}
		c.st.Contact = true
		c.contactLog.Do(func() {
			c.logf("contact detected at z=%.5f (fz=%.3f N)", cur.Z, c.wr.CorrectedFz())
		})
	}

	surface := c.cfg.SurfaceHeight(c.st.Start.Z)
	if cur.Z <= surface || (c.cfg.ContactGatesApproach && c.st.Contact) {
		c.st.Target.Position = c.st.Grid
		c.wr.SetSampling(false)
		c.enter(Palpate, now)
		return
	}

	c.st.Grid.Z -= c.cfg.ApproachStep()
	c.st.Target.Position = c.st.Grid
}

func (c *Controller) palpate(now time.Time) bool {
	t := now.Sub(c.st.PhaseEntered)
	phase := 2 * math.Pi * c.cfg.PalpationFrequency * t.Seconds()
	c.st.Target.Position = r3.Vec{
		X: c.st.Grid.X,
		Y: c.st.Grid.Y,
		Z: c.st.Grid.Z - c.cfg.PalpationAmplitude*math.Sin(phase),
	}

	if t <= c.cfg.PalpationDuration {
		return false
	}
	c.st.Contact = false
	c.enter(Retract, now)
	return true
}

func (c *Controller) retract(cur r3.Vec, now time.Time) {
	start := c.st.Start
	if cur.Z < start.Z {
		c.st.Grid.Z = math.Min(c.st.Grid.Z+c.cfg.RetractStep(), start.Z)
	} else {
		c.st.Grid.Z = start.Z
	}
	c.st.Target.Position = c.st.Grid

	if math.Abs(cur.Z-start.Z) < c.cfg.PositionTolerance {
		c.st.Index++
		c.st.Grid = c.seq.Cell(start, c.st.Index)
		monitoring.PalpationIndex.Set(float64(c.st.Index))
		c.logf("next cell %d at (%.5f, %.5f)", c.st.Index, c.st.Grid.X, c.st.Grid.Y)
		c.enter(GridMove, now)
	}
}

func (c *Controller) enter(p Phase, now time.Time) {
	monitoring.PhaseTransitions.WithLabelValues(c.st.Phase.String(), p.String()).Inc()
	c.st.Phase = p
	c.st.PhaseEntered = now
}

// moveAxis snaps to the cell coordinate once within tol and otherwise steps
// toward it.
func moveAxis(from, to, step, tol float64) float64 {
	if math.Abs(to-from) < tol {
		return to
	}
	return stepToward(from, to, step)
}

// stepToward moves from toward to by at most step without overshooting.
func stepToward(from, to, step float64) float64 {
	d := to - from
	if math.Abs(d) <= step {
		return to
	}
	return from + math.Copysign(step, d)
}
