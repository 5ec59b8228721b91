package measure

import "github.com/tanagerlabs/go-fathom/pkg/platform"

// Instruction strings shown to the user per phase. Complete gets two
// variants so the text reflects whether the value was already taken.
const (
	instructionIdle        = "Start a session to begin measuring."
	instructionScanning    = "Move your device slowly to find a surface."
	instructionReadyFirst  = "Aim the reticle and tap to place the first point."
	instructionReadySecond = "Aim the reticle and tap to place the second point."
	instructionComplete    = "Distance measured. Confirm to use it, or redo."
	instructionConfirmed   = "Measurement confirmed."
)

// Controls describes which UI affordances are currently offered.
type Controls struct {
	Place   bool `json:"place"`
	Undo    bool `json:"undo"`
	Confirm bool `json:"confirm"`
	Redo    bool `json:"redo"`
}

// Projection is the read-only snapshot of fast-path state handed to
// the UI layer. The render loop never produces it; the UI layer pulls
// it on its own throttled cadence after change signals.
type Projection struct {
	SessionActive  bool               `json:"session_active"`
	Phase          Phase              `json:"phase"`
	Instruction    string             `json:"instruction"`
	DistanceMeters *float64           `json:"distance_meters,omitempty"`
	Confirmed      bool               `json:"confirmed"`
	ReticleVisible bool               `json:"reticle_visible"`
	ReticlePos     *[3]float64        `json:"reticle_position,omitempty"`
	Points         [][3]float64       `json:"points,omitempty"`
	Space          platform.SpaceKind `json:"space,omitempty"`
	Controls       Controls           `json:"controls"`
}

func instructionFor(phase Phase, confirmed bool) string {
	switch phase {
	case PhaseScanning:
		return instructionScanning
	case PhaseReadyFirst:
		return instructionReadyFirst
	case PhaseReadySecond:
		return instructionReadySecond
	case PhaseComplete:
		if confirmed {
			return instructionConfirmed
		}
		return instructionComplete
	default:
		return instructionIdle
	}
}

func controlsFor(phase Phase, confirmed bool) Controls {
	switch phase {
	case PhaseReadyFirst:
		return Controls{Place: true}
	case PhaseReadySecond:
		return Controls{Place: true, Undo: true}
	case PhaseComplete:
		return Controls{Confirm: !confirmed, Redo: true}
	default:
		return Controls{}
	}
}
