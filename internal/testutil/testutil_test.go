package testutil

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestAssertNoError(t *testing.T) {
	t.Parallel()

	AssertNoError(t, nil)
}

func TestUnitCube(t *testing.T) {
	t.Parallel()

	v, f := UnitCube()
	if len(v) != 8 {
		t.Fatalf("vertices = %d, want 8", len(v))
	}
	if len(f) != 12 {
		t.Fatalf("faces = %d, want 12", len(f))
	}
	for i, tri := range f {
		for _, idx := range tri {
			if idx < 0 || idx >= len(v) {
				t.Errorf("face %d references vertex %d", i, idx)
			}
		}
	}
}

func TestEllipsoid(t *testing.T) {
	t.Parallel()

	v, f := Ellipsoid(2, 1, 0.5, 6, 8)
	if want := 2 + 5*8; len(v) != want {
		t.Fatalf("vertices = %d, want %d", len(v), want)
	}
	if want := 2*8 + 2*4*8; len(f) != want {
		t.Fatalf("faces = %d, want %d", len(f), want)
	}
	for _, p := range v {
		r := p.X*p.X/4 + p.Y*p.Y + p.Z*p.Z/0.25
		if math.Abs(r-1) > 1e-9 {
			t.Fatalf("point %v off the surface: %g", p, r)
		}
	}
}

func TestJitterDeterministic(t *testing.T) {
	t.Parallel()

	pts := []r3.Vec{{X: 1}, {Y: 1}, {Z: 1}}
	a := Jitter(pts, 0.1, 7)
	b := Jitter(pts, 0.1, 7)
	AssertPointsNear(t, a, b, 0)
	if d := MaxDeviation(a, pts); d == 0 || d > 0.1*math.Sqrt(3) {
		t.Errorf("deviation = %g, want within (0, %g]", d, 0.1*math.Sqrt(3))
	}
}

func TestRotateZ(t *testing.T) {
	t.Parallel()

	got := RotateZ([]r3.Vec{{X: 1}}, 90, r3.Vec{Z: 2})
	AssertVecNear(t, got[0], r3.Vec{Y: 1, Z: 2}, 1e-12)
}

func TestLumpyIsDeterministic(t *testing.T) {
	t.Parallel()

	AssertPointsNear(t, Lumpy(), Lumpy(), 0)
}
