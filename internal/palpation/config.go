package palpation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/palpation/internal/kinematics"
)

// SurfaceReference selects how SurfaceZ is interpreted.
type SurfaceReference string

const (
	// SurfaceAbsolute treats SurfaceZ as a height in the base frame.
	SurfaceAbsolute SurfaceReference = "absolute"
	// SurfaceFromStart treats SurfaceZ as an offset from the start height.
	SurfaceFromStart SurfaceReference = "start"
)

// Config holds every controller constant. It is validated once by
// Controller.Configure.
type Config struct {
	ControlRateHz float64 `json:"control_rate_hz" validate:"gt=0,lte=10000"`

	// Linear speeds in m/s. The per-cycle step is speed / ControlRateHz.
	GridMoveSpeed float64 `json:"grid_move_speed" validate:"gt=0"`
	ApproachSpeed float64 `json:"approach_speed" validate:"gt=0"`
	RetractSpeed  float64 `json:"retract_speed" validate:"gt=0"`

	PositionTolerance float64 `json:"position_tolerance" validate:"gt=0"`

	GridColumns int     `json:"grid_columns" validate:"gt=0"`
	CellSize    float64 `json:"cell_size" validate:"gt=0"`
	GridXBound  float64 `json:"grid_x_bound" validate:"gte=0"`

	SurfaceZ         float64          `json:"surface_z"`
	SurfaceOffset    float64          `json:"surface_offset" validate:"gte=0"`
	SurfaceReference SurfaceReference `json:"surface_reference" validate:"oneof=absolute start"`

	ContactThreshold     float64 `json:"contact_threshold" validate:"lt=0"`
	ContactGatesApproach bool    `json:"contact_gates_approach"`
	BiasSamples          int     `json:"bias_samples" validate:"gt=0"`

	PalpationAmplitude float64       `json:"palpation_amplitude" validate:"gte=0"`
	PalpationFrequency float64       `json:"palpation_frequency" validate:"gt=0"`
	PalpationDuration  time.Duration `json:"palpation_duration" validate:"gt=0"`

	Orientation quat.Number `json:"-" validate:"-"`
	FrameID     string      `json:"frame_id" validate:"required"`
}

// DefaultConfig returns the constants of the bench setup: a 500 Hz loop,
// a 19-column raster of 2.5 mm cells and 10 s of 2 Hz probing.
func DefaultConfig() Config {
	return Config{
		ControlRateHz:      500,
		GridMoveSpeed:      0.005,
		ApproachSpeed:      0.002,
		RetractSpeed:       0.005,
		PositionTolerance:  0.001,
		GridColumns:        19,
		CellSize:           0.0025,
		GridXBound:         0.0451,
		SurfaceZ:           -0.15,
		SurfaceOffset:      0.0045,
		SurfaceReference:   SurfaceAbsolute,
		ContactThreshold:   -0.35,
		BiasSamples:        500,
		PalpationAmplitude: 0.00175,
		PalpationFrequency: 2,
		PalpationDuration:  10 * time.Second,
		Orientation:        quat.Number{Imag: 1},
		FrameID:            "base_link",
	}
}

// Period returns the control cycle period.
func (c Config) Period() time.Duration {
	return time.Duration(float64(time.Second) / c.ControlRateHz)
}

// GridMoveStep returns the per-cycle x/y increment.
func (c Config) GridMoveStep() float64 { return c.GridMoveSpeed / c.ControlRateHz }

// ApproachStep returns the per-cycle descent.
func (c Config) ApproachStep() float64 { return c.ApproachSpeed / c.ControlRateHz }

// RetractStep returns the per-cycle ascent.
func (c Config) RetractStep() float64 { return c.RetractSpeed / c.ControlRateHz }

// Sequencer returns the grid sequencer for this configuration.
func (c Config) Sequencer() GridSequencer {
	return GridSequencer{Columns: c.GridColumns, CellSize: c.CellSize, XBound: c.GridXBound}
}

// SurfaceHeight returns the Approach stop height for a given start height.
func (c Config) SurfaceHeight(startZ float64) float64 {
	surface := c.SurfaceZ
	if c.SurfaceReference == SurfaceFromStart {
		surface += startZ
	}
	return surface - c.SurfaceOffset
}

// ConfigError reports one invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid palpation config: %s %s", e.Field, e.Reason)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks c and returns a *ConfigError for the first bad field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			reason := fe.Tag()
			if fe.Param() != "" {
				reason += "=" + fe.Param()
			}
			return &ConfigError{Field: fe.Field(), Reason: "fails " + reason + " (got " + fmt.Sprint(fe.Value()) + ")"}
		}
		return &ConfigError{Field: "config", Reason: err.Error()}
	}
	if !kinematics.IsUnitQuaternion(c.Orientation, 1e-6) {
		return &ConfigError{Field: "Orientation", Reason: fmt.Sprintf("must be a unit quaternion, got %v", c.Orientation)}
	}
	if strings.TrimSpace(c.FrameID) != c.FrameID {
		return &ConfigError{Field: "FrameID", Reason: "must not have surrounding whitespace"}
	}
	return nil
}
