package measure

import "github.com/tanagerlabs/go-fathom/pkg/geometry"

// Phase is the placement state. Order: scanning until a surface is
// found, then one point at a time, then complete.
type Phase string

const (
	// PhaseIdle is reported while no session is active.
	PhaseIdle Phase = "idle"

	// PhaseScanning: session live, no surface found yet.
	PhaseScanning Phase = "scanning"

	// PhaseReadyFirst: surface tracked, waiting for the first point.
	PhaseReadyFirst Phase = "ready-first"

	// PhaseReadySecond: one point placed, waiting for the second.
	PhaseReadySecond Phase = "ready-second"

	// PhaseComplete: two points placed, distance computed.
	PhaseComplete Phase = "complete"
)

// placeResult reports what a select event did.
type placeResult int

const (
	placeIgnored placeResult = iota
	placedFirst
	placedSecond
)

// placement is the point-placement state machine. It is pure state:
// no locking, no side effects. The engine serializes access and owns
// the scene-graph effects of each transition.
//
// Point order is meaningful: index 0 is the target point, index 1 the
// observer point.
type placement struct {
	phase    Phase
	points   []geometry.Vec3
	distance float64 // meters, meaningful only in PhaseComplete
}

func newPlacement() placement {
	return placement{phase: PhaseScanning}
}

// SurfaceAcquired moves scanning to ready-first. One-time: reports
// false when the machine is already past scanning.
func (p *placement) SurfaceAcquired() bool {
	if p.phase != PhaseScanning {
		return false
	}
	p.phase = PhaseReadyFirst
	return true
}

// Place appends a point if the current phase accepts one. The distance
// is computed when the set reaches exactly two points; a single reticle
// sample is authoritative, with no smoothing or averaging.
func (p *placement) Place(point geometry.Vec3) placeResult {
	switch p.phase {
	case PhaseReadyFirst:
		p.points = append(p.points, point)
		p.phase = PhaseReadySecond
		return placedFirst
	case PhaseReadySecond:
		if len(p.points) >= 2 {
			return placeIgnored
		}
		p.points = append(p.points, point)
		p.distance = geometry.Distance(p.points[0], p.points[1])
		p.phase = PhaseComplete
		return placedSecond
	default:
		return placeIgnored
	}
}

// Undo removes the single placed point and returns to ready-first.
// With zero points placed it is a no-op and reports false.
func (p *placement) Undo() bool {
	if p.phase != PhaseReadySecond || len(p.points) != 1 {
		return false
	}
	p.points = p.points[:0]
	p.phase = PhaseReadyFirst
	return true
}

// Redo clears both points from a complete measurement and returns to
// ready-first. The surface is assumed still tracked, so it never falls
// back to scanning.
func (p *placement) Redo() bool {
	if p.phase != PhaseComplete {
		return false
	}
	p.points = p.points[:0]
	p.distance = 0
	p.phase = PhaseReadyFirst
	return true
}

// Reset returns the machine to scanning with no points.
func (p *placement) Reset() {
	p.points = nil
	p.distance = 0
	p.phase = PhaseScanning
}

// Phase returns the current placement phase.
func (p *placement) Phase() Phase {
	return p.phase
}

// Points returns a copy of the placed points in placement order.
func (p *placement) Points() []geometry.Vec3 {
	if len(p.points) == 0 {
		return nil
	}
	out := make([]geometry.Vec3, len(p.points))
	copy(out, p.points)
	return out
}

// Distance returns the measured distance in meters, valid only when
// the measurement is complete.
func (p *placement) Distance() (float64, bool) {
	if p.phase != PhaseComplete {
		return 0, false
	}
	return p.distance, true
}
