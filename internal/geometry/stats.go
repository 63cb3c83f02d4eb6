package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// Centroid returns the arithmetic mean of points. The zero vector is
// returned for an empty slice.
func Centroid(points []r3.Vec) r3.Vec {
	if len(points) == 0 {
		return r3.Vec{}
	}
	xs, ys, zs := columns(points)
	return r3.Vec{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Z: stat.Mean(zs, nil)}
}

// Bounds returns the axis-aligned bounding box of points.
func Bounds(points []r3.Vec) (min, max r3.Vec) {
	if len(points) == 0 {
		return r3.Vec{}, r3.Vec{}
	}
	min = r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	max = r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, p := range points {
		min.X, max.X = math.Min(min.X, p.X), math.Max(max.X, p.X)
		min.Y, max.Y = math.Min(min.Y, p.Y), math.Max(max.Y, p.Y)
		min.Z, max.Z = math.Min(min.Z, p.Z), math.Max(max.Z, p.Z)
	}
	return min, max
}

// MaxExtent returns the largest side of the bounding box.
func MaxExtent(points []r3.Vec) float64 {
	min, max := Bounds(points)
	d := r3.Sub(max, min)
	return math.Max(d.X, math.Max(d.Y, d.Z))
}

// RMSDeviation returns sqrt(Σ‖p − c‖² / (3N)), the per-coordinate root mean
// square deviation about the centroid.
func RMSDeviation(points []r3.Vec) float64 {
	if len(points) == 0 {
		return 0
	}
	c := Centroid(points)
	xs, ys, zs := columns(points)
	// Second moment about the centroid, per axis.
	sum := stat.MomentAbout(2, xs, c.X, nil) + stat.MomentAbout(2, ys, c.Y, nil) + stat.MomentAbout(2, zs, c.Z, nil)
	return math.Sqrt(sum / 3)
}

func columns(points []r3.Vec) (xs, ys, zs []float64) {
	xs = make([]float64, len(points))
	ys = make([]float64, len(points))
	zs = make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	return xs, ys, zs
}
