// Package sim models a cartesian gantry pressing a probe into a soft
// surface. It stands in for the robot and the force sensor so the
// controller can run without hardware.
package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/palpation/internal/ftsensor"
	"github.com/banshee-data/palpation/internal/kinematics"
	"github.com/banshee-data/palpation/internal/monitoring"
	"github.com/banshee-data/palpation/internal/palpation"
	"github.com/banshee-data/palpation/internal/timeutil"
	"github.com/banshee-data/palpation/internal/wrench"
)

var logf = monitoring.Component("Sim")

// RigConfig describes the simulated plant.
type RigConfig struct {
	// Home is the tip position with every joint at zero. Joint i moves
	// the tip along base axis i.
	Home r3.Vec
	// Start is the tip position at time zero, relative to Home.
	Start r3.Vec

	// TimeConstant of the first-order lag between command and tip.
	TimeConstant time.Duration
	// MaxSpeed caps the tip speed in m/s. Zero disables the cap.
	MaxSpeed float64

	// SurfaceZ is the absolute height of the undeformed tissue.
	SurfaceZ float64
	// Stiffness in N/m and Damping in N·s/m of the tissue below SurfaceZ.
	Stiffness float64
	Damping   float64

	// SensorBias is added to every fz reading; NoiseStdDev is the standard
	// deviation of the Gaussian noise on each force axis.
	SensorBias  float64
	NoiseStdDev float64
	// SensorRateHz is the force sample rate.
	SensorRateHz float64
	Seed         uint64
}

// DefaultRigConfig returns a gantry tracking within ~10 ms over tissue
// 7.5 mm below a 0.1 m start height.
func DefaultRigConfig() RigConfig {
	return RigConfig{
		Home:         r3.Vec{Z: 0.1},
		TimeConstant: 10 * time.Millisecond,
		MaxSpeed:     0.05,
		SurfaceZ:     0.0925,
		Stiffness:    300,
		Damping:      2,
		SensorBias:   0.8,
		NoiseStdDev:  0.01,
		SensorRateHz: 1000,
		Seed:         1,
	}
}

// Validate checks the plant parameters.
func (c RigConfig) Validate() error {
	switch {
	case c.TimeConstant <= 0:
		return fmt.Errorf("sim: time constant must be positive, got %v", c.TimeConstant)
	case c.SensorRateHz <= 0:
		return fmt.Errorf("sim: sensor rate must be positive, got %g", c.SensorRateHz)
	case c.MaxSpeed < 0 || c.Stiffness < 0 || c.Damping < 0 || c.NoiseStdDev < 0:
		return fmt.Errorf("sim: speed, stiffness, damping and noise must not be negative")
	}
	return nil
}

// WithHome moves the rig to home, keeping the tissue at the same depth
// below it.
func (c RigConfig) WithHome(home r3.Vec) RigConfig {
	c.SurfaceZ += home.Z - c.Home.Z
	c.Home = home
	return c
}

// Rig is the simulated gantry. It integrates lazily: every call to Joints
// advances the plant to the clock's current time and feeds one force sample
// per sensor period to the sink.
type Rig struct {
	cfg   RigConfig
	clock timeutil.Clock
	sink  ftsensor.Sink
	rng   *rand.Rand
	h     time.Duration

	mu      sync.Mutex
	last    time.Time
	pending time.Duration
	pos     r3.Vec
	vel     r3.Vec
	target  r3.Vec
	truth   wrench.Wrench
	samples uint64
	cmds    uint64
}

// NewRig creates a rig at cfg.Home+cfg.Start. sink may be nil.
func NewRig(cfg RigConfig, clock timeutil.Clock, sink ftsensor.Sink) (*Rig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = ftsensor.SinkFunc(func(wrench.Wrench) {})
	}
	start := r3.Add(cfg.Home, cfg.Start)
	return &Rig{
		cfg:    cfg,
		clock:  clock,
		sink:   sink,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		h:      time.Duration(float64(time.Second) / cfg.SensorRateHz),
		last:   clock.Now(),
		pos:    start,
		target: start,
	}, nil
}

// Joints advances the plant to now and returns the joint sample.
func (r *Rig) Joints() (kinematics.JointState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanceLocked(r.clock.Now())

	q := r3.Sub(r.pos, r.cfg.Home)
	return kinematics.JointState{
		Positions:  []float64{q.X, q.Y, q.Z},
		Velocities: []float64{r.vel.X, r.vel.Y, r.vel.Z},
	}, nil
}

// SendCommand sets the tip target. Orientation is ignored: the gantry has
// no rotational axes.
func (r *Rig) SendCommand(cmd palpation.PoseCommand) error {
	p := cmd.Pose.Position
	if !kinematics.IsFiniteVec(p) {
		return fmt.Errorf("sim: non-finite target %+v", p)
	}
	r.mu.Lock()
	r.target = p
	r.cmds++
	r.mu.Unlock()
	return nil
}

// Position returns the tip position.
func (r *Rig) Position() r3.Vec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

// Target returns the last commanded tip position.
func (r *Rig) Target() r3.Vec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

// ContactForce returns the noise-free, unbiased force on the probe.
func (r *Rig) ContactForce() wrench.Wrench {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.truth
}

// Stats returns the number of force samples emitted and commands received.
func (r *Rig) Stats() (samples, commands uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples, r.cmds
}

func (r *Rig) advanceLocked(now time.Time) {
	dt := now.Sub(r.last)
	if dt <= 0 {
		return
	}
	r.last = now
	r.pending += dt
	for r.pending >= r.h {
		r.pending -= r.h
		r.integrate(r.h.Seconds())
		r.sample()
	}
}

func (r *Rig) integrate(dt float64) {
	alpha := 1 - math.Exp(-dt/r.cfg.TimeConstant.Seconds())
	delta := r3.Scale(alpha, r3.Sub(r.target, r.pos))
	if limit := r.cfg.MaxSpeed * dt; limit > 0 {
		if n := r3.Norm(delta); n > limit {
			delta = r3.Scale(limit/n, delta)
		}
	}
	r.pos = r3.Add(r.pos, delta)
	r.vel = r3.Scale(1/dt, delta)
	r.truth = wrench.Wrench{Force: r3.Vec{Z: r.tissueForce()}}
}

// tissueForce is the z reaction of a spring-damper surface. Compression
// reads negative; the tissue never pulls.
func (r *Rig) tissueForce() float64 {
	depth := r.cfg.SurfaceZ - r.pos.Z
	if depth <= 0 {
		return 0
	}
	f := -r.cfg.Stiffness*depth + r.cfg.Damping*r.vel.Z
	return math.Min(f, 0)
}

func (r *Rig) sample() {
	n := func() float64 { return r.rng.NormFloat64() * r.cfg.NoiseStdDev }
	w := wrench.Wrench{
		Force: r3.Vec{
			X: r.truth.Force.X + n(),
			Y: r.truth.Force.Y + n(),
			Z: r.truth.Force.Z + r.cfg.SensorBias + n(),
		},
	}
	r.samples++
	r.sink.Ingest(w)
}

// HomeFromEstimator returns the tip position of est with every joint at
// zero, for use as RigConfig.Home.
func HomeFromEstimator(est palpation.Estimator, joints int) (r3.Vec, error) {
	zero := make([]float64, joints)
	ee, err := est.Estimate(kinematics.JointState{Positions: zero, Velocities: zero})
	if err != nil {
		return r3.Vec{}, fmt.Errorf("sim: home pose: %w", err)
	}
	return ee.Position, nil
}

// Describe logs the plant parameters.
func (r *Rig) Describe() {
	logf("gantry home %+v, surface z=%.4f, k=%.0f N/m, bias %.3f N, noise %.3f N at %.0f Hz",
		r.cfg.Home, r.cfg.SurfaceZ, r.cfg.Stiffness, r.cfg.SensorBias, r.cfg.NoiseStdDev, r.cfg.SensorRateHz)
}
