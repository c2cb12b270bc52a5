package sim

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/palpation/internal/ftsensor"
	"github.com/banshee-data/palpation/internal/kinematics"
	"github.com/banshee-data/palpation/internal/monitoring"
	"github.com/banshee-data/palpation/internal/palpation"
	"github.com/banshee-data/palpation/internal/testutil"
	"github.com/banshee-data/palpation/internal/timeutil"
	"github.com/banshee-data/palpation/internal/wrench"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func quietConfig() RigConfig {
	cfg := DefaultRigConfig()
	cfg.NoiseStdDev = 0
	return cfg
}

func command(p r3.Vec) palpation.PoseCommand {
	return palpation.PoseCommand{Stamp: t0, FrameID: "base_link", Pose: kinematics.Pose{Position: p}}
}

// run advances the clock in control periods, sampling the rig each time.
func run(t *testing.T, clock *timeutil.MockClock, rig *Rig, d time.Duration) {
	t.Helper()
	const period = 2 * time.Millisecond
	for elapsed := time.Duration(0); elapsed < d; elapsed += period {
		clock.Advance(period)
		if _, err := rig.Joints(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRigConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*RigConfig)
	}{
		{"zero time constant", func(c *RigConfig) { c.TimeConstant = 0 }},
		{"zero sensor rate", func(c *RigConfig) { c.SensorRateHz = 0 }},
		{"negative stiffness", func(c *RigConfig) { c.Stiffness = -1 }},
		{"negative noise", func(c *RigConfig) { c.NoiseStdDev = -0.1 }},
	}
	require.NoError(t, DefaultRigConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRigConfig()
			tt.modify(&cfg)
			_, err := NewRig(cfg, timeutil.NewMockClock(t0), nil)
			assert.Error(t, err)
		})
	}
}

func TestRig_JointsAtStart(t *testing.T) {
	cfg := quietConfig()
	cfg.Start = r3.Vec{X: 0.01, Y: -0.02}
	rig, err := NewRig(cfg, timeutil.NewMockClock(t0), nil)
	require.NoError(t, err)

	js, err := rig.Joints()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.01, -0.02, 0}, js.Positions)
	assert.Equal(t, []float64{0, 0, 0}, js.Velocities)

	est := testutil.GantryEstimator(t)
	ee, err := est.Estimate(js)
	require.NoError(t, err)
	testutil.AssertVecNear(t, "tip", ee.Position, r3.Vec{X: 0.01, Y: -0.02, Z: 0.1}, 1e-12)
}

func TestRig_TracksCommand(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	rig, err := NewRig(quietConfig(), clock, nil)
	require.NoError(t, err)

	target := r3.Vec{X: 0.005, Y: 0.0025, Z: 0.1}
	require.NoError(t, rig.SendCommand(command(target)))
	run(t, clock, rig, time.Second)

	testutil.AssertVecNear(t, "position", rig.Position(), target, 1e-6)
	assert.Equal(t, target, rig.Target())
	samples, cmds := rig.Stats()
	assert.Equal(t, uint64(1000), samples)
	assert.Equal(t, uint64(1), cmds)
}

func TestRig_SpeedLimit(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	cfg := quietConfig()
	cfg.MaxSpeed = 0.01
	rig, err := NewRig(cfg, clock, nil)
	require.NoError(t, err)

	require.NoError(t, rig.SendCommand(command(r3.Vec{X: 1, Z: 0.1})))
	run(t, clock, rig, 100*time.Millisecond)
	testutil.AssertNear(t, "x after 100ms", rig.Position().X, 0.001, 1e-9)

	js, _ := rig.Joints()
	testutil.AssertNear(t, "x velocity", js.Velocities[0], 0.01, 1e-9)
}

func TestRig_RejectsNonFinite(t *testing.T) {
	rig, err := NewRig(quietConfig(), timeutil.NewMockClock(t0), nil)
	require.NoError(t, err)
	assert.Error(t, rig.SendCommand(command(r3.Vec{Z: math.NaN()})))
}

func TestRig_TissueForce(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	cfg := quietConfig()
	var last wrench.Wrench
	rig, err := NewRig(cfg, clock, ftsensor.SinkFunc(func(w wrench.Wrench) { last = w }))
	require.NoError(t, err)

	run(t, clock, rig, 10*time.Millisecond)
	testutil.AssertNear(t, "fz in air", last.Force.Z, cfg.SensorBias, 1e-12)
	assert.Zero(t, rig.ContactForce().Force.Z)

	depth := 0.002
	require.NoError(t, rig.SendCommand(command(r3.Vec{Z: cfg.SurfaceZ - depth})))
	run(t, clock, rig, time.Second)

	want := -cfg.Stiffness * depth
	testutil.AssertNear(t, "contact fz", rig.ContactForce().Force.Z, want, 1e-6)
	testutil.AssertNear(t, "sensor fz", last.Force.Z, want+cfg.SensorBias, 1e-6)
}

func TestRig_NoiseIsSeeded(t *testing.T) {
	collect := func() []float64 {
		clock := timeutil.NewMockClock(t0)
		var fz []float64
		rig, err := NewRig(DefaultRigConfig(), clock, ftsensor.SinkFunc(func(w wrench.Wrench) { fz = append(fz, w.Force.Z) }))
		require.NoError(t, err)
		run(t, clock, rig, 20*time.Millisecond)
		return fz
	}
	a, b := collect(), collect()
	require.Len(t, a, 20)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a[0], a[1])
}

func TestRig_FeedsFilter(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	cfg := quietConfig()
	f := wrench.NewFilter(100)
	rig, err := NewRig(cfg, clock, f)
	require.NoError(t, err)

	f.SetSampling(true)
	run(t, clock, rig, 200*time.Millisecond)
	b := f.Bias()
	require.True(t, b.Settled)
	testutil.AssertNear(t, "bias", b.Value, cfg.SensorBias, 1e-12)
	testutil.AssertNear(t, "corrected fz", f.CorrectedFz(), 0, 1e-12)
}

func TestHomeFromEstimator(t *testing.T) {
	home, err := HomeFromEstimator(testutil.GantryEstimator(t), 3)
	require.NoError(t, err)
	testutil.AssertVecNear(t, "home", home, testutil.GantryHome, 1e-12)

	_, err = HomeFromEstimator(testutil.GantryEstimator(t), 2)
	assert.Error(t, err)
}

func TestRigConfig_WithHome(t *testing.T) {
	base := DefaultRigConfig()
	moved := base.WithHome(r3.Vec{X: 0.3, Y: -0.1, Z: 0.25})
	testutil.AssertVecNear(t, "home", moved.Home, r3.Vec{X: 0.3, Y: -0.1, Z: 0.25}, 1e-12)
	testutil.AssertNear(t, "tissue depth", moved.Home.Z-moved.SurfaceZ, base.Home.Z-base.SurfaceZ, 1e-12)
	assert.Equal(t, 0.1, base.Home.Z, "receiver is a copy")
}
