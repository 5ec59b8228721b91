package geometry

import (
	"fmt"
	"math"
)

// Pose is a 4x4 world transform (rotation + translation), row-major.
// Hit-test results and scene object placements are expressed as poses.
type Pose [4][4]float64

// Identity returns the identity pose at the origin.
func Identity() Pose {
	return Pose{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Translation returns an identity-rotation pose located at pos.
func Translation(pos Vec3) Pose {
	p := Identity()
	p.SetPosition(pos)
	return p
}

// YawPose returns a pose at pos rotated by yaw radians about the
// vertical axis (ZYX Euler convention, yaw about Z).
func YawPose(yaw float64, pos Vec3) Pose {
	s, c := math.Sin(yaw), math.Cos(yaw)
	p := Pose{
		{c, -s, 0, 0},
		{s, c, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	p.SetPosition(pos)
	return p
}

// Position returns the translation component of the pose.
func (p *Pose) Position() Vec3 {
	return Vec3{X: p[0][3], Y: p[1][3], Z: p[2][3]}
}

// SetPosition overwrites the translation component in place, leaving the
// rotation untouched. The render loop uses this to move the reticle pose
// without reallocating it every frame.
func (p *Pose) SetPosition(pos Vec3) {
	p[0][3] = pos.X
	p[1][3] = pos.Y
	p[2][3] = pos.Z
}

// Euler extracts roll, pitch, yaw (radians) using the ZYX convention.
func (p *Pose) Euler() (roll, pitch, yaw float64) {
	r00 := p[0][0]
	r10, r11, r12 := p[1][0], p[1][1], p[1][2]
	r20, r21, r22 := p[2][0], p[2][1], p[2][2]

	// Gimbal lock at pitch = ±90°
	sy := math.Sqrt(r00*r00 + r10*r10)

	if sy < 1e-6 {
		roll = math.Atan2(-r12, r11)
		pitch = math.Atan2(-r20, sy)
		yaw = 0
		return roll, pitch, yaw
	}

	roll = math.Atan2(r21, r22)
	pitch = math.Atan2(-r20, sy)
	yaw = math.Atan2(r10, r00)
	return roll, pitch, yaw
}

// Flat16 returns the pose as 16 row-major floats for the wire.
func (p *Pose) Flat16() []float64 {
	out := make([]float64, 16)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i*4+j] = p[i][j]
		}
	}
	return out
}

// PoseFromFlat16 reconstructs a pose from 16 row-major floats.
func PoseFromFlat16(f []float64) (Pose, error) {
	var p Pose
	if len(f) != 16 {
		return p, fmt.Errorf("geometry: pose needs 16 floats, got %d", len(f))
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			p[i][j] = f[i*4+j]
		}
	}
	return p, nil
}
