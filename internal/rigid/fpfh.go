package rigid

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/organ.projection/internal/geometry"
)

// Descriptor layout: three 11-bin histograms of the pair angles.
const (
	fpfhBins      = 11
	FeatureLength = 3 * fpfhBins
)

// ErrNoNormals is returned when features are requested for a cloud
// without normals.
var ErrNoNormals = errors.New("rigid: point cloud has no normals")

// FPFH computes a Fast Point Feature Histogram for every point of pc using
// neighbours within radius, capped at maxNN.
func FPFH(pc *geometry.PointCloud, radius float64, maxNN int) ([][]float64, error) {
	if !pc.HasNormals() {
		return nil, ErrNoNormals
	}
	n := pc.Len()
	ix := geometry.NewIndex(pc.Points)

	// maxNN counts the query point itself, which the search returns first.
	hood := make([][]geometry.Neighbour, n)
	spfh := make([][]float64, n)
	for i, p := range pc.Points {
		nb := ix.WithinRadius(p, radius, maxNN)
		hood[i] = dropSelf(nb, i)
		spfh[i] = simplifiedHistogram(pc, i, hood[i])
	}

	out := make([][]float64, n)
	for i := range pc.Points {
		f := make([]float64, FeatureLength)
		var sum [3]float64
		for _, nb := range hood[i] {
			d2 := nb.Distance * nb.Distance
			if d2 == 0 {
				continue
			}
			for j, v := range spfh[nb.ID] {
				w := v / d2
				sum[j/fpfhBins] += w
				f[j] += w
			}
		}
		for j := range sum {
			if sum[j] != 0 {
				sum[j] = 100 / sum[j]
			}
		}
		for j := range f {
			f[j] = f[j]*sum[j/fpfhBins] + spfh[i][j]
		}
		out[i] = f
	}
	return out, nil
}

func dropSelf(nb []geometry.Neighbour, id int) []geometry.Neighbour {
	out := nb[:0:0]
	for _, n := range nb {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out
}

// simplifiedHistogram bins the pair features of point i against each of
// its neighbours. Each histogram sums to 100.
func simplifiedHistogram(pc *geometry.PointCloud, i int, hood []geometry.Neighbour) []float64 {
	h := make([]float64, FeatureLength)
	if len(hood) == 0 {
		return h
	}
	incr := 100 / float64(len(hood))
	for _, nb := range hood {
		f, ok := pairFeatures(pc.Points[i], pc.Normals[i], pc.Points[nb.ID], pc.Normals[nb.ID])
		if !ok {
			continue
		}
		h[bin(f[0], -math.Pi, math.Pi)] += incr
		h[fpfhBins+bin(f[1], -1, 1)] += incr
		h[2*fpfhBins+bin(f[2], -1, 1)] += incr
	}
	return h
}

func bin(v, lo, hi float64) int {
	b := int(math.Floor(fpfhBins * (v - lo) / (hi - lo)))
	if b < 0 {
		return 0
	}
	if b >= fpfhBins {
		return fpfhBins - 1
	}
	return b
}

// pairFeatures returns the Darboux frame angles (θ, α, φ) between two
// oriented points. The source of the frame is the point whose normal makes
// the smaller angle with the connecting line.
func pairFeatures(p1, n1, p2, n2 r3.Vec) ([3]float64, bool) {
	dp := r3.Sub(p2, p1)
	d := r3.Norm(dp)
	if d == 0 {
		return [3]float64{}, false
	}
	a1 := r3.Dot(n1, dp) / d
	a2 := r3.Dot(n2, dp) / d

	var phi float64
	if math.Acos(math.Abs(a1)) > math.Acos(math.Abs(a2)) {
		n1, n2 = n2, n1
		dp = r3.Scale(-1, dp)
		phi = -a2
	} else {
		phi = a1
	}

	v := r3.Cross(dp, n1)
	vn := r3.Norm(v)
	if vn == 0 {
		return [3]float64{}, false
	}
	v = r3.Scale(1/vn, v)
	w := r3.Cross(n1, v)

	alpha := r3.Dot(v, n2)
	theta := math.Atan2(r3.Dot(w, n2), r3.Dot(n1, n2))
	return [3]float64{theta, alpha, phi}, true
}
