package transform

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Components is an affine matrix split into per-axis scale, extrinsic xyz
// Euler angles in degrees, and translation.
type Components struct {
	Scale       r3.Vec
	Angles      [3]float64
	Translation r3.Vec
}

// Decompose splits a row-major affine matrix. Scale is the norm of each
// column of the linear part; the rotation is what remains after dividing
// the columns by it. Shear is not represented.
func Decompose(m [16]float64) Components {
	col := func(c int) r3.Vec { return r3.Vec{X: m[c], Y: m[4+c], Z: m[8+c]} }
	scale := r3.Vec{X: r3.Norm(col(0)), Y: r3.Norm(col(1)), Z: r3.Norm(col(2))}

	div := func(v, s float64) float64 {
		if s == 0 {
			return 0
		}
		return v / s
	}
	rot := Mat3{
		div(m[0], scale.X), div(m[1], scale.Y), div(m[2], scale.Z),
		div(m[4], scale.X), div(m[5], scale.Y), div(m[6], scale.Z),
		div(m[8], scale.X), div(m[9], scale.Y), div(m[10], scale.Z),
	}
	return Components{
		Scale:       scale,
		Angles:      EulerXYZ(rot),
		Translation: r3.Vec{X: m[3], Y: m[7], Z: m[11]},
	}
}

// Equal reports whether two matrices agree within tol element-wise.
func Equal(a, b [16]float64, tol float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}
