package rigid

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/organ.projection/internal/geometry"
	"github.com/banshee-data/organ.projection/internal/transform"
)

// ErrTooFewPoints is returned when an estimate has fewer than three
// correspondences.
var ErrTooFewPoints = errors.New("rigid: at least three correspondences are required")

// EstimateRigid returns the rotation and translation minimising
// Σ‖R·src[i] + t − dst[i]‖² (Kabsch, via SVD), as a row-major 4x4 matrix.
// Reflections are corrected so R is a proper rotation.
func EstimateRigid(src, dst []r3.Vec) ([16]float64, error) {
	if len(src) != len(dst) {
		return [16]float64{}, fmt.Errorf("rigid: %d source and %d target points", len(src), len(dst))
	}
	if len(src) < 3 {
		return [16]float64{}, ErrTooFewPoints
	}

	cs := geometry.Centroid(src)
	cd := geometry.Centroid(dst)

	h := mat.NewDense(3, 3, nil)
	for i := range src {
		a := r3.Sub(src[i], cs)
		b := r3.Sub(dst[i], cd)
		av := [3]float64{a.X, a.Y, a.Z}
		bv := [3]float64{b.X, b.Y, b.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+av[r]*bv[c])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return [16]float64{}, errors.New("rigid: SVD did not converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V·diag(1, 1, d)·Uᵀ with d fixing reflections.
	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&v, u.T())
	}

	rot := transform.Mat3{
		r.At(0, 0), r.At(0, 1), r.At(0, 2),
		r.At(1, 0), r.At(1, 1), r.At(1, 2),
		r.At(2, 0), r.At(2, 1), r.At(2, 2),
	}
	t := r3.Sub(cd, mulVec(rot, cs))
	return [16]float64{
		rot[0], rot[1], rot[2], t.X,
		rot[3], rot[4], rot[5], t.Y,
		rot[6], rot[7], rot[8], t.Z,
		0, 0, 0, 1,
	}, nil
}

func mulVec(m transform.Mat3, v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		Y: m[3]*v.X + m[4]*v.Y + m[5]*v.Z,
		Z: m[6]*v.X + m[7]*v.Y + m[8]*v.Z,
	}
}

// Evaluate maps source through m and reports the fraction of points with
// a target neighbour within threshold, the RMS distance over those, and
// the inlier pairs (source index, target index).
func Evaluate(source []r3.Vec, target *geometry.Index, m [16]float64, threshold float64) (fitness, rmse float64, pairs [][2]int) {
	if len(source) == 0 {
		return 0, 0, nil
	}
	var sum float64
	for i, p := range source {
		nb := target.Nearest(transform.ApplyMatrix(m, p))
		if nb.ID < 0 || nb.Distance > threshold {
			continue
		}
		sum += nb.Distance * nb.Distance
		pairs = append(pairs, [2]int{i, nb.ID})
	}
	if len(pairs) == 0 {
		return 0, 0, nil
	}
	return float64(len(pairs)) / float64(len(source)), math.Sqrt(sum / float64(len(pairs))), pairs
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
