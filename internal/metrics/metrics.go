// Package metrics scores a registration by comparing the registered
// surface with its target.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/organ.projection/internal/geometry"
)

// Metric names accepted by Compute.
const (
	Chamfer   = "chamfer"
	Hausdorff = "hausdorff"
	Sinkhorn  = "sinkhorn"
)

var (
	// ErrUnknownMetric is returned by Compute for an unrecognised name.
	ErrUnknownMetric = errors.New("metrics: unknown metric")

	// ErrEmpty is returned when either point set is empty.
	ErrEmpty = errors.New("metrics: empty point set")
)

// Names lists the supported metrics in a stable order.
func Names() []string {
	return []string{Chamfer, Hausdorff, Sinkhorn}
}

// Compute evaluates the named metric between target and registered.
func Compute(name string, target, registered []r3.Vec) (float64, error) {
	switch name {
	case Chamfer:
		return ChamferDistance(target, registered)
	case Hausdorff:
		return HausdorffDistance(target, registered)
	case Sinkhorn:
		return SinkhornDistance(target, registered, SinkhornOptions{})
	default:
		return 0, fmt.Errorf("%w %q, must be one of %v", ErrUnknownMetric, name, Names())
	}
}

// ChamferDistance is the mean nearest-neighbour distance from a to b plus
// the mean from b to a.
func ChamferDistance(a, b []r3.Vec) (float64, error) {
	ab, err := directed(a, b)
	if err != nil {
		return 0, err
	}
	ba, err := directed(b, a)
	if err != nil {
		return 0, err
	}
	return stat.Mean(ab, nil) + stat.Mean(ba, nil), nil
}

// HausdorffDistance is the larger of the two directed Hausdorff distances.
func HausdorffDistance(a, b []r3.Vec) (float64, error) {
	ab, err := directed(a, b)
	if err != nil {
		return 0, err
	}
	ba, err := directed(b, a)
	if err != nil {
		return 0, err
	}
	return math.Max(maxOf(ab), maxOf(ba)), nil
}

// directed returns, for every point of from, the distance to its nearest
// point in to.
func directed(from, to []r3.Vec) ([]float64, error) {
	if len(from) == 0 || len(to) == 0 {
		return nil, ErrEmpty
	}
	ix := geometry.NewIndex(to)
	out := make([]float64, len(from))
	for i, p := range from {
		out[i] = ix.Nearest(p).Distance
	}
	return out, nil
}

func maxOf(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		m = math.Max(m, x)
	}
	return m
}

// Percentile returns the p-th percentile (0..100) of the distances from
// each point of a to its nearest neighbour in b.
func Percentile(a, b []r3.Vec, p float64) (float64, error) {
	d, err := directed(a, b)
	if err != nil {
		return 0, err
	}
	sort.Float64s(d)
	return stat.Quantile(p/100, stat.Empirical, d, nil), nil
}
