package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/palpation/internal/kinematics"
	"github.com/banshee-data/palpation/internal/palpation"
)

// DefaultConfigPath is the path to the canonical palpation defaults file.
const DefaultConfigPath = "config/palpation.defaults.json"

// PalpationConfig is the on-disk configuration. Every field is optional;
// the Get* methods supply the bench defaults for anything omitted.
type PalpationConfig struct {
	// Robot description and chain
	RobotDescription *string  `json:"robot_description,omitempty"` // YAML path, relative to this file
	BaseLink         *string  `json:"base_link,omitempty"`
	EndEffectorLink  *string  `json:"end_effector_link,omitempty"`
	Joints           []string `json:"joints,omitempty"`

	// Control loop
	ControlRateHz     *float64 `json:"control_rate_hz,omitempty"`
	GridMoveSpeed     *float64 `json:"grid_move_speed,omitempty"`
	ApproachSpeed     *float64 `json:"approach_speed,omitempty"`
	RetractSpeed      *float64 `json:"retract_speed,omitempty"`
	PositionTolerance *float64 `json:"position_tolerance,omitempty"`

	// Raster
	GridColumns *int     `json:"grid_columns,omitempty"`
	CellSize    *float64 `json:"cell_size,omitempty"`
	GridXBound  *float64 `json:"grid_x_bound,omitempty"`

	// Surface and contact
	SurfaceZ             *float64 `json:"surface_z,omitempty"`
	SurfaceOffset        *float64 `json:"surface_offset,omitempty"`
	SurfaceReference     *string  `json:"surface_reference,omitempty"` // "absolute" or "start"
	ContactThreshold     *float64 `json:"contact_threshold,omitempty"`
	ContactGatesApproach *bool    `json:"contact_gates_approach,omitempty"`
	BiasSamples          *int     `json:"bias_samples,omitempty"`

	// Probing motion
	PalpationAmplitude *float64 `json:"palpation_amplitude,omitempty"`
	PalpationFrequency *float64 `json:"palpation_frequency,omitempty"`
	PalpationDuration  *string  `json:"palpation_duration,omitempty"` // duration string like "10s"

	// Command orientation as [x, y, z, w]
	Orientation *[4]float64 `json:"orientation,omitempty"`

	// Telemetry
	TelemetryQueueSize *int `json:"telemetry_queue_size,omitempty"`
	TelemetryHistory   *int `json:"telemetry_history,omitempty"`

	// Net F/T scaling
	FTCountsPerForce  *float64 `json:"ft_counts_per_force,omitempty"`
	FTCountsPerTorque *float64 `json:"ft_counts_per_torque,omitempty"`

	baseDir string
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPalpationConfig returns a PalpationConfig with all fields set to nil.
func EmptyPalpationConfig() *PalpationConfig {
	return &PalpationConfig{}
}

// LoadPalpationConfig loads a PalpationConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to the Get* defaults.
func LoadPalpationConfig(path string) (*PalpationConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPalpationConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	cfg.baseDir = filepath.Dir(cleanPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded, intended
// for test setup.
func MustLoadDefaultConfig() *PalpationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/palpctl/ and deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadPalpationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the file-level fields. Controller constants are checked
// again by palpation.Config.Validate after Resolve.
func (c *PalpationConfig) Validate() error {
	if c.PalpationDuration != nil && *c.PalpationDuration != "" {
		if _, err := time.ParseDuration(*c.PalpationDuration); err != nil {
			return fmt.Errorf("invalid palpation_duration '%s': %w", *c.PalpationDuration, err)
		}
	}

	if c.SurfaceReference != nil {
		switch palpation.SurfaceReference(*c.SurfaceReference) {
		case palpation.SurfaceAbsolute, palpation.SurfaceFromStart:
		default:
			return fmt.Errorf("surface_reference must be \"absolute\" or \"start\", got %q", *c.SurfaceReference)
		}
	}

	if c.Joints != nil && len(c.Joints) == 0 {
		return errors.New("joints must not be an empty list")
	}
	seen := make(map[string]bool, len(c.Joints))
	for _, j := range c.Joints {
		if j == "" {
			return errors.New("joints must not contain empty names")
		}
		if seen[j] {
			return fmt.Errorf("duplicate joint %q", j)
		}
		seen[j] = true
	}

	if c.TelemetryQueueSize != nil && *c.TelemetryQueueSize <= 0 {
		return fmt.Errorf("telemetry_queue_size must be positive, got %d", *c.TelemetryQueueSize)
	}
	if c.TelemetryHistory != nil && *c.TelemetryHistory < 0 {
		return fmt.Errorf("telemetry_history must be non-negative, got %d", *c.TelemetryHistory)
	}
	if c.FTCountsPerForce != nil && *c.FTCountsPerForce <= 0 {
		return fmt.Errorf("ft_counts_per_force must be positive, got %f", *c.FTCountsPerForce)
	}
	if c.FTCountsPerTorque != nil && *c.FTCountsPerTorque <= 0 {
		return fmt.Errorf("ft_counts_per_torque must be positive, got %f", *c.FTCountsPerTorque)
	}
	return nil
}

// Resolve builds and validates the controller configuration.
func (c *PalpationConfig) Resolve() (palpation.Config, error) {
	o := c.GetOrientation()
	cfg := palpation.Config{
		ControlRateHz:        c.GetControlRateHz(),
		GridMoveSpeed:        c.GetGridMoveSpeed(),
		ApproachSpeed:        c.GetApproachSpeed(),
		RetractSpeed:         c.GetRetractSpeed(),
		PositionTolerance:    c.GetPositionTolerance(),
		GridColumns:          c.GetGridColumns(),
		CellSize:             c.GetCellSize(),
		GridXBound:           c.GetGridXBound(),
		SurfaceZ:             c.GetSurfaceZ(),
		SurfaceOffset:        c.GetSurfaceOffset(),
		SurfaceReference:     palpation.SurfaceReference(c.GetSurfaceReference()),
		ContactThreshold:     c.GetContactThreshold(),
		ContactGatesApproach: c.GetContactGatesApproach(),
		BiasSamples:          c.GetBiasSamples(),
		PalpationAmplitude:   c.GetPalpationAmplitude(),
		PalpationFrequency:   c.GetPalpationFrequency(),
		PalpationDuration:    c.GetPalpationDuration(),
		Orientation:          quat.Number{Imag: o[0], Jmag: o[1], Kmag: o[2], Real: o[3]},
		FrameID:              c.GetBaseLink(),
	}
	if err := cfg.Validate(); err != nil {
		return palpation.Config{}, err
	}
	return cfg, nil
}

// LoadEstimator reads the robot description and builds a pose estimator for
// the configured chain and joint order. All chain errors surface here, before
// the controller is configured.
func (c *PalpationConfig) LoadEstimator() (*kinematics.PoseEstimator, error) {
	path := c.GetRobotDescription()
	if path == "" {
		return nil, errors.New("robot_description is required")
	}
	desc, err := kinematics.LoadDescription(path)
	if err != nil {
		return nil, err
	}
	chain, err := kinematics.BuildChain(desc, c.GetBaseLink(), c.GetEndEffectorLink())
	if err != nil {
		return nil, fmt.Errorf("build chain: %w", err)
	}
	names := c.Joints
	if len(names) == 0 {
		names = chain.JointNames()
	}
	return kinematics.NewPoseEstimator(chain, names)
}

// GetRobotDescription returns the description path, resolved against the
// directory of the loaded config file when relative.
func (c *PalpationConfig) GetRobotDescription() string {
	if c.RobotDescription == nil || *c.RobotDescription == "" {
		return ""
	}
	p := *c.RobotDescription
	if !filepath.IsAbs(p) && c.baseDir != "" {
		p = filepath.Join(c.baseDir, p)
	}
	return p
}

// GetBaseLink returns the base_link value or the default.
func (c *PalpationConfig) GetBaseLink() string {
	if c.BaseLink == nil || *c.BaseLink == "" {
		return "base_link"
	}
	return *c.BaseLink
}

// GetEndEffectorLink returns the end_effector_link value or the default.
func (c *PalpationConfig) GetEndEffectorLink() string {
	if c.EndEffectorLink == nil || *c.EndEffectorLink == "" {
		return "probe_tip"
	}
	return *c.EndEffectorLink
}

// GetControlRateHz returns the control_rate_hz value or the default.
func (c *PalpationConfig) GetControlRateHz() float64 {
	if c.ControlRateHz == nil {
		return 500
	}
	return *c.ControlRateHz
}

// GetGridMoveSpeed returns the grid_move_speed value or the default.
func (c *PalpationConfig) GetGridMoveSpeed() float64 {
	if c.GridMoveSpeed == nil {
		return 0.005
	}
	return *c.GridMoveSpeed
}

// GetApproachSpeed returns the approach_speed value or the default.
func (c *PalpationConfig) GetApproachSpeed() float64 {
	if c.ApproachSpeed == nil {
		return 0.002
	}
	return *c.ApproachSpeed
}

// GetRetractSpeed returns the retract_speed value or the default.
func (c *PalpationConfig) GetRetractSpeed() float64 {
	if c.RetractSpeed == nil {
		return 0.005
	}
	return *c.RetractSpeed
}

// GetPositionTolerance returns the position_tolerance value or the default.
func (c *PalpationConfig) GetPositionTolerance() float64 {
	if c.PositionTolerance == nil {
		return 0.001
	}
	return *c.PositionTolerance
}

// GetGridColumns returns the grid_columns value or the default.
func (c *PalpationConfig) GetGridColumns() int {
	if c.GridColumns == nil {
		return 19
	}
	return *c.GridColumns
}

// GetCellSize returns the cell_size value or the default.
func (c *PalpationConfig) GetCellSize() float64 {
	if c.CellSize == nil {
		return 0.0025
	}
	return *c.CellSize
}

// GetGridXBound returns the grid_x_bound value or the default.
func (c *PalpationConfig) GetGridXBound() float64 {
	if c.GridXBound == nil {
		return 0.0451
	}
	return *c.GridXBound
}

// GetSurfaceZ returns the surface_z value or the default.
func (c *PalpationConfig) GetSurfaceZ() float64 {
	if c.SurfaceZ == nil {
		return -0.15
	}
	return *c.SurfaceZ
}

// GetSurfaceOffset returns the surface_offset value or the default.
func (c *PalpationConfig) GetSurfaceOffset() float64 {
	if c.SurfaceOffset == nil {
		return 0.0045
	}
	return *c.SurfaceOffset
}

// GetSurfaceReference returns the surface_reference value or the default.
func (c *PalpationConfig) GetSurfaceReference() string {
	if c.SurfaceReference == nil || *c.SurfaceReference == "" {
		return string(palpation.SurfaceAbsolute)
	}
	return *c.SurfaceReference
}

// GetContactThreshold returns the contact_threshold value or the default.
func (c *PalpationConfig) GetContactThreshold() float64 {
	if c.ContactThreshold == nil {
		return -0.35
	}
	return *c.ContactThreshold
}

// GetContactGatesApproach returns the contact_gates_approach value or the default.
func (c *PalpationConfig) GetContactGatesApproach() bool {
	if c.ContactGatesApproach == nil {
		return false // default: contact is advisory only
	}
	return *c.ContactGatesApproach
}

// GetBiasSamples returns the bias_samples value or the default.
func (c *PalpationConfig) GetBiasSamples() int {
	if c.BiasSamples == nil {
		return 500
	}
	return *c.BiasSamples
}

// GetPalpationAmplitude returns the palpation_amplitude value or the default.
func (c *PalpationConfig) GetPalpationAmplitude() float64 {
	if c.PalpationAmplitude == nil {
		return 0.00175
	}
	return *c.PalpationAmplitude
}

// GetPalpationFrequency returns the palpation_frequency value or the default.
func (c *PalpationConfig) GetPalpationFrequency() float64 {
	if c.PalpationFrequency == nil {
		return 2
	}
	return *c.PalpationFrequency
}

// GetPalpationDuration parses and returns the palpation_duration.
func (c *PalpationConfig) GetPalpationDuration() time.Duration {
	if c.PalpationDuration == nil || *c.PalpationDuration == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*c.PalpationDuration)
	if err != nil {
		return 10 * time.Second // default on parse error
	}
	return d
}

// GetOrientation returns the command orientation as [x, y, z, w].
func (c *PalpationConfig) GetOrientation() [4]float64 {
	if c.Orientation == nil {
		return [4]float64{1, 0, 0, 0}
	}
	return *c.Orientation
}

// GetTelemetryQueueSize returns the telemetry_queue_size value or the default.
func (c *PalpationConfig) GetTelemetryQueueSize() int {
	if c.TelemetryQueueSize == nil {
		return 1024
	}
	return *c.TelemetryQueueSize
}

// GetTelemetryHistory returns the telemetry_history value or the default.
func (c *PalpationConfig) GetTelemetryHistory() int {
	if c.TelemetryHistory == nil {
		return 2500
	}
	return *c.TelemetryHistory
}

// GetFTCountsPerForce returns the ft_counts_per_force value or the default.
func (c *PalpationConfig) GetFTCountsPerForce() float64 {
	if c.FTCountsPerForce == nil {
		return 1000000
	}
	return *c.FTCountsPerForce
}

// GetFTCountsPerTorque returns the ft_counts_per_torque value or the default.
func (c *PalpationConfig) GetFTCountsPerTorque() float64 {
	if c.FTCountsPerTorque == nil {
		return 1000000
	}
	return *c.FTCountsPerTorque
}
