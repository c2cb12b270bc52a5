package palpation

import (
	"time"

	"github.com/banshee-data/palpation/internal/kinematics"
)

// Record is the per-cycle telemetry record.
type Record struct {
	Elapsed   float64 `json:"elapsed"`
	CurrentZ  float64 `json:"current_z"`
	TargetZ   float64 `json:"target_z"`
	VelocityZ float64 `json:"velocity_z"`
	ForceZ    float64 `json:"force_z"`
	Index     int     `json:"index"`
	Phase     Phase   `json:"phase"`
	CurrentX  float64 `json:"current_x"`
	CurrentY  float64 `json:"current_y"`

	Contact bool   `json:"contact"`
	Session string `json:"session"`
}

// RecordFields names the entries of Record.Values in order.
var RecordFields = []string{
	"elapsed_time", "current_z", "target_z", "current_z_velocity",
	"force_z", "palpation_index", "phase", "current_x", "current_y",
}

// Values returns the numeric record in wire order.
func (r Record) Values() []float64 {
	return []float64{
		r.Elapsed, r.CurrentZ, r.TargetZ, r.VelocityZ, r.ForceZ,
		float64(r.Index), float64(r.Phase), r.CurrentX, r.CurrentY,
	}
}

// PoseCommand is the Cartesian target sent to the robot each cycle.
type PoseCommand struct {
	Stamp   time.Time       `json:"stamp"`
	FrameID string          `json:"frame_id"`
	Pose    kinematics.Pose `json:"pose"`
}

// buildRecord assembles the record for one cycle.
func buildRecord(s *State, now time.Time, cur kinematics.EndEffectorState, fz float64) Record {
	return Record{
		Elapsed:   now.Sub(s.Activated).Seconds(),
		CurrentZ:  cur.Position.Z,
		TargetZ:   s.Target.Position.Z,
		VelocityZ: cur.LinearVelocity.Z,
		ForceZ:    fz,
		Index:     s.Index,
		Phase:     s.Phase,
		CurrentX:  cur.Position.X,
		CurrentY:  cur.Position.Y,
		Contact:   s.Contact,
		Session:   s.Session,
	}
}
