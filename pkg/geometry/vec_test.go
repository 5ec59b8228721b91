package geometry

import (
	"math"
	"testing"
)

const floatTolerance = 1e-9

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatTolerance
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b Vec3
		want float64
	}{
		{
			name: "3-4-5 triangle",
			a:    Vec3{X: 0, Y: 0, Z: 0},
			b:    Vec3{X: 3, Y: 0, Z: 4},
			want: 5.0,
		},
		{
			name: "unit along x",
			a:    Vec3{X: 1, Y: 2, Z: 3},
			b:    Vec3{X: 2, Y: 2, Z: 3},
			want: 1.0,
		},
		{
			name: "same point",
			a:    Vec3{X: -1.5, Y: 0.25, Z: 9},
			b:    Vec3{X: -1.5, Y: 0.25, Z: 9},
			want: 0,
		},
		{
			name: "negative coordinates",
			a:    Vec3{X: -3, Y: 0, Z: 0},
			b:    Vec3{X: 3, Y: 0, Z: 0},
			want: 6.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if !floatEquals(got, tt.want) {
				t.Errorf("Distance(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestDistance_Symmetric(t *testing.T) {
	pairs := []struct{ a, b Vec3 }{
		{Vec3{X: 0, Y: 0, Z: 0}, Vec3{X: 3, Y: 0, Z: 4}},
		{Vec3{X: 1.1, Y: -2.2, Z: 3.3}, Vec3{X: -4.4, Y: 5.5, Z: -6.6}},
		{Vec3{X: 0.001, Y: 0, Z: 0}, Vec3{X: 0, Y: 0.001, Z: 0}},
	}

	for _, p := range pairs {
		ab := Distance(p.a, p.b)
		ba := Distance(p.b, p.a)
		if !floatEquals(ab, ba) {
			t.Errorf("Distance not symmetric: d(a,b)=%v d(b,a)=%v for %v %v", ab, ba, p.a, p.b)
		}
		if ab < 0 {
			t.Errorf("Distance negative: %v for %v %v", ab, p.a, p.b)
		}
	}
}

func TestDistance_ZeroIffEqual(t *testing.T) {
	a := Vec3{X: 1, Y: 2, Z: 3}
	if d := Distance(a, a); d != 0 {
		t.Errorf("Distance(a, a) = %v, want exactly 0", d)
	}

	b := Vec3{X: 1, Y: 2, Z: 3.0000001}
	if d := Distance(a, b); d == 0 {
		t.Errorf("Distance(a, b) = 0 for distinct points %v %v", a, b)
	}
}

func TestMidpoint(t *testing.T) {
	a := Vec3{X: 0, Y: 0, Z: 0}
	b := Vec3{X: 3, Y: 0, Z: 4}
	m := Midpoint(a, b)
	want := Vec3{X: 1.5, Y: 0, Z: 2}
	if !floatEquals(m.X, want.X) || !floatEquals(m.Y, want.Y) || !floatEquals(m.Z, want.Z) {
		t.Errorf("Midpoint(%v, %v) = %v, want %v", a, b, m, want)
	}
}
