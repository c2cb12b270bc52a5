package palpation

import (
	"errors"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig invalid: %v", err)
	}
	if cfg.Period() != 2*time.Millisecond {
		t.Errorf("Period = %v, want 2ms", cfg.Period())
	}
	steps := []struct {
		name      string
		got, want float64
	}{
		{"grid move", cfg.GridMoveStep(), 0.005 / 500},
		{"approach", cfg.ApproachStep(), 0.002 / 500},
		{"retract", cfg.RetractStep(), 0.005 / 500},
	}
	for _, s := range steps {
		if math.Abs(s.got-s.want) > 1e-18 {
			t.Errorf("%s step = %g, want %g", s.name, s.got, s.want)
		}
	}
	if got := cfg.SurfaceHeight(0.3); math.Abs(got-(-0.1545)) > 1e-12 {
		t.Errorf("absolute SurfaceHeight = %g, want -0.1545", got)
	}
}

func TestConfig_SurfaceFromStart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SurfaceReference = SurfaceFromStart
	cfg.SurfaceZ = -0.005
	cfg.SurfaceOffset = 0.001
	if got := cfg.SurfaceHeight(0.1); math.Abs(got-0.094) > 1e-12 {
		t.Errorf("SurfaceHeight = %g, want 0.094", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero rate", func(c *Config) { c.ControlRateHz = 0 }, "ControlRateHz"},
		{"absurd rate", func(c *Config) { c.ControlRateHz = 1e6 }, "ControlRateHz"},
		{"negative grid speed", func(c *Config) { c.GridMoveSpeed = -1 }, "GridMoveSpeed"},
		{"zero approach speed", func(c *Config) { c.ApproachSpeed = 0 }, "ApproachSpeed"},
		{"zero retract speed", func(c *Config) { c.RetractSpeed = 0 }, "RetractSpeed"},
		{"zero tolerance", func(c *Config) { c.PositionTolerance = 0 }, "PositionTolerance"},
		{"zero columns", func(c *Config) { c.GridColumns = 0 }, "GridColumns"},
		{"zero cell", func(c *Config) { c.CellSize = 0 }, "CellSize"},
		{"negative bound", func(c *Config) { c.GridXBound = -0.1 }, "GridXBound"},
		{"negative offset", func(c *Config) { c.SurfaceOffset = -0.001 }, "SurfaceOffset"},
		{"bad reference", func(c *Config) { c.SurfaceReference = "table" }, "SurfaceReference"},
		{"positive threshold", func(c *Config) { c.ContactThreshold = 0.35 }, "ContactThreshold"},
		{"zero samples", func(c *Config) { c.BiasSamples = 0 }, "BiasSamples"},
		{"negative amplitude", func(c *Config) { c.PalpationAmplitude = -1 }, "PalpationAmplitude"},
		{"zero frequency", func(c *Config) { c.PalpationFrequency = 0 }, "PalpationFrequency"},
		{"zero duration", func(c *Config) { c.PalpationDuration = 0 }, "PalpationDuration"},
		{"no frame", func(c *Config) { c.FrameID = "" }, "FrameID"},
		{"padded frame", func(c *Config) { c.FrameID = " base_link" }, "FrameID"},
		{"non-unit orientation", func(c *Config) { c.Orientation = quat.Number{Real: 1, Imag: 1} }, "Orientation"},
		{"zero orientation", func(c *Config) { c.Orientation = quat.Number{} }, "Orientation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q (%v)", cfgErr.Field, tt.field, err)
			}
		})
	}
}

func TestGridSequencer(t *testing.T) {
	g := DefaultConfig().Sequencer()
	origin := r3.Vec{X: 0.2, Y: -0.1, Z: 0.1}

	for k := 0; k < 60; k++ {
		row, col := k/19, k%19
		dx, dy := g.Offset(k)
		if dx != 0.0025*float64(row) || dy != 0.0025*float64(col) {
			t.Fatalf("Offset(%d) = (%g, %g), want (%g, %g)", k, dx, dy, 0.0025*float64(row), 0.0025*float64(col))
		}
		c := g.Cell(origin, k)
		if c.X != origin.X+dx || c.Y != origin.Y+dy || c.Z != origin.Z {
			t.Fatalf("Cell(%d) = %+v", k, c)
		}
	}

	if got := g.Cell(r3.Vec{Z: 0.1}, 1); got != (r3.Vec{X: 0, Y: 0.0025, Z: 0.1}) {
		t.Errorf("Cell(1) = %+v", got)
	}
	if got := g.Cell(r3.Vec{}, 19); got != (r3.Vec{X: 0.0025}) {
		t.Errorf("Cell(19) = %+v, want first cell of second row", got)
	}
}

func TestGridSequencer_Cells(t *testing.T) {
	g := DefaultConfig().Sequencer()
	cells := g.Cells(r3.Vec{})
	if len(cells) != 19*19 {
		t.Fatalf("len(Cells) = %d, want %d", len(cells), 19*19)
	}
	last := cells[len(cells)-1]
	if math.Abs(last.X-0.045) > 1e-12 || math.Abs(last.Y-0.045) > 1e-12 {
		t.Errorf("last cell = %+v", last)
	}
	if !g.Complete(r3.Vec{}, g.Cell(r3.Vec{}, len(cells))) {
		t.Error("cell after the last should be complete")
	}
	if g.Complete(r3.Vec{}, last) {
		t.Error("last cell reported complete")
	}
}

func TestPhaseString(t *testing.T) {
	want := map[Phase]string{GridMove: "GridMove", Approach: "Approach", Palpate: "Palpate", Retract: "Retract", 9: "Phase(9)"}
	for p, s := range want {
		if p.String() != s {
			t.Errorf("Phase(%d).String() = %q, want %q", int(p), p.String(), s)
		}
	}
	if int(GridMove) != 1 || int(Retract) != 4 {
		t.Error("phase numbering changed; telemetry consumers depend on 1..4")
	}
	if Active.String() != "active" {
		t.Errorf("Active.String() = %q", Active.String())
	}
}

func TestRecord_Values(t *testing.T) {
	r := Record{
		Elapsed: 1.5, CurrentZ: 0.09, TargetZ: 0.089, VelocityZ: -0.002, ForceZ: -0.4,
		Index: 3, Phase: Palpate, CurrentX: 0.01, CurrentY: 0.02, Contact: true,
	}
	want := []float64{1.5, 0.09, 0.089, -0.002, -0.4, 3, 3, 0.01, 0.02}
	got := r.Values()
	if len(got) != len(want) || len(RecordFields) != len(want) {
		t.Fatalf("Values len %d, fields %d, want %d", len(got), len(RecordFields), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Values[%d] (%s) = %g, want %g", i, RecordFields[i], got[i], want[i])
		}
	}
}
