package palpation

import "fmt"

// Phase is one of the four palpation control states. The numeric values are
// the ones carried in telemetry records.
type Phase int

const (
	GridMove Phase = iota + 1
	Approach
	Palpate
	Retract
)

func (p Phase) String() string {
	switch p {
	case GridMove:
		return "GridMove"
	case Approach:
		return "Approach"
	case Palpate:
		return "Palpate"
	case Retract:
		return "Retract"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Lifecycle is the controller's activation state.
type Lifecycle int

const (
	Unconfigured Lifecycle = iota
	Inactive
	Active
)

func (l Lifecycle) String() string {
	switch l {
	case Unconfigured:
		return "unconfigured"
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("Lifecycle(%d)", int(l))
	}
}
