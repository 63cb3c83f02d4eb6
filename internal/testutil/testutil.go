// Package testutil provides shared test utilities and fixtures.
//
// This package centralises synthetic geometry and numeric assertions used
// across the registration packages. It depends only on gonum types so that
// any package can import it from its tests without creating a cycle.
package testutil

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertVecNear fails the test if got and want differ by more than tol in
// any coordinate.
func AssertVecNear(t *testing.T, got, want r3.Vec, tol float64) {
	t.Helper()
	if math.Abs(got.X-want.X) > tol || math.Abs(got.Y-want.Y) > tol || math.Abs(got.Z-want.Z) > tol {
		t.Errorf("vector = %v, want %v (tol %g)", got, want, tol)
	}
}

// AssertPointsNear compares two point slices element-wise.
func AssertPointsNear(t *testing.T, got, want []r3.Vec, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range got {
		if math.Abs(got[i].X-want[i].X) > tol || math.Abs(got[i].Y-want[i].Y) > tol || math.Abs(got[i].Z-want[i].Z) > tol {
			t.Fatalf("point %d = %v, want %v (tol %g)", i, got[i], want[i], tol)
		}
	}
}

// MaxDeviation returns the largest Euclidean distance between paired
// points.
func MaxDeviation(a, b []r3.Vec) float64 {
	var worst float64
	for i := range a {
		if d := r3.Norm(r3.Sub(a[i], b[i])); d > worst {
			worst = d
		}
	}
	return worst
}

// UnitCube returns the 8 corners of the axis-aligned unit cube with its 12
// triangles.
func UnitCube() ([]r3.Vec, [][3]int) {
	v := []r3.Vec{
		{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 1, Y: 1, Z: 0}, {X: 0, Y: 1, Z: 0},
		{X: 0, Y: 0, Z: 1}, {X: 1, Y: 0, Z: 1}, {X: 1, Y: 1, Z: 1}, {X: 0, Y: 1, Z: 1},
	}
	f := [][3]int{
		{0, 2, 1}, {0, 3, 2},
		{4, 5, 6}, {4, 6, 7},
		{0, 1, 5}, {0, 5, 4},
		{1, 2, 6}, {1, 6, 5},
		{2, 3, 7}, {2, 7, 6},
		{3, 0, 4}, {3, 4, 7},
	}
	return v, f
}

// Ellipsoid samples an axis-aligned ellipsoid with semi-axes a, b, c on a
// latitude/longitude grid and returns the vertices and triangles. Distinct
// semi-axes make the shape free of rotational symmetry other than the
// axis flips.
func Ellipsoid(a, b, c float64, rings, segments int) ([]r3.Vec, [][3]int) {
	var v []r3.Vec
	v = append(v, r3.Vec{Z: c})
	for i := 1; i < rings; i++ {
		phi := math.Pi * float64(i) / float64(rings)
		for j := 0; j < segments; j++ {
			theta := 2 * math.Pi * float64(j) / float64(segments)
			v = append(v, r3.Vec{
				X: a * math.Sin(phi) * math.Cos(theta),
				Y: b * math.Sin(phi) * math.Sin(theta),
				Z: c * math.Cos(phi),
			})
		}
	}
	v = append(v, r3.Vec{Z: -c})
	bottom := len(v) - 1

	ring := func(i, j int) int { return 1 + (i-1)*segments + (j % segments) }
	var f [][3]int
	for j := 0; j < segments; j++ {
		f = append(f, [3]int{0, ring(1, j), ring(1, j+1)})
	}
	for i := 1; i < rings-1; i++ {
		for j := 0; j < segments; j++ {
			f = append(f,
				[3]int{ring(i, j), ring(i+1, j), ring(i+1, j+1)},
				[3]int{ring(i, j), ring(i+1, j+1), ring(i, j+1)},
			)
		}
	}
	for j := 0; j < segments; j++ {
		f = append(f, [3]int{bottom, ring(rings-1, j+1), ring(rings-1, j)})
	}
	return v, f
}

// Lumpy returns a deterministic asymmetric cloud: an ellipsoid with a bump
// on one side, so rigid alignment has a unique answer.
func Lumpy() []r3.Vec {
	v, _ := Ellipsoid(1.0, 0.6, 0.35, 14, 24)
	bump := r3.Vec{X: 0.7, Y: 0.3, Z: 0.2}
	out := make([]r3.Vec, len(v))
	for i, p := range v {
		d := r3.Norm(r3.Sub(p, bump))
		k := 0.35 * math.Exp(-d*d/0.08)
		out[i] = r3.Add(p, r3.Scale(k, r3.Unit(r3.Add(p, r3.Vec{X: 1e-9}))))
	}
	return out
}

// Jitter returns a copy of points with uniform noise of amplitude amp
// drawn from a seeded source.
func Jitter(points []r3.Vec, amp float64, seed int64) []r3.Vec {
	rng := rand.New(rand.NewSource(seed))
	out := make([]r3.Vec, len(points))
	for i, p := range points {
		out[i] = r3.Vec{
			X: p.X + amp*(2*rng.Float64()-1),
			Y: p.Y + amp*(2*rng.Float64()-1),
			Z: p.Z + amp*(2*rng.Float64()-1),
		}
	}
	return out
}

// RotateZ rotates points by deg degrees about the Z axis and then
// translates them by t.
func RotateZ(points []r3.Vec, deg float64, t r3.Vec) []r3.Vec {
	s, c := math.Sincos(deg * math.Pi / 180)
	out := make([]r3.Vec, len(points))
	for i, p := range points {
		out[i] = r3.Vec{X: c*p.X - s*p.Y + t.X, Y: s*p.X + c*p.Y + t.Y, Z: p.Z + t.Z}
	}
	return out
}
