// Package geometry provides the world-space math shared by the tracking
// engine: 3-D vectors in the session's reference space and 4x4 pose
// transforms as reported by per-frame hit-tests.
package geometry

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Vec3 is a point or direction in world space, in meters.
type Vec3 = r3.Vec

// Distance returns the Euclidean distance between two world points, in
// meters. It is symmetric, non-negative, and zero iff a == b.
func Distance(a, b Vec3) float64 {
	return r3.Norm(r3.Sub(a, b))
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b Vec3) Vec3 {
	return r3.Scale(0.5, r3.Add(a, b))
}
