package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// SinkhornOptions tunes the entropic optimal transport estimate.
type SinkhornOptions struct {
	// Epsilon is the entropic regularisation. Zero uses 1% of the mean
	// pairwise distance.
	Epsilon float64
	// MaxIterations bounds the Sinkhorn updates; zero means 1000.
	MaxIterations int
	// Tolerance on the L1 row-marginal error; zero means 1e-9.
	Tolerance float64
	// MaxPoints subsamples each set with a uniform stride; zero means 2000.
	MaxPoints int
}

// SinkhornDistance is the transport cost ⟨M, P⟩ of the entropic optimal
// plan P between uniform masses on a and b, where M holds pairwise
// Euclidean distances. Updates run in the log domain so small Epsilon does
// not underflow.
func SinkhornDistance(a, b []r3.Vec, opts SinkhornOptions) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrEmpty
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 1000
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-9
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = 2000
	}
	a, b = subsample(a, opts.MaxPoints), subsample(b, opts.MaxPoints)
	n, m := len(a), len(b)

	cost := make([][]float64, n)
	var total float64
	for i := range a {
		cost[i] = make([]float64, m)
		for j := range b {
			cost[i][j] = r3.Norm(r3.Sub(a[i], b[j]))
			total += cost[i][j]
		}
	}
	eps := opts.Epsilon
	if eps <= 0 {
		eps = 0.01 * total / float64(n*m)
	}
	if eps == 0 {
		// Coincident single points.
		return 0, nil
	}

	logA, logB := -math.Log(float64(n)), -math.Log(float64(m))
	f := make([]float64, n)
	g := make([]float64, m)
	rowBuf := make([]float64, m)
	colBuf := make([]float64, n)

	for iter := 0; iter < opts.MaxIterations; iter++ {
		for i := range f {
			for j := range g {
				rowBuf[j] = (g[j] - cost[i][j]) / eps
			}
			f[i] = eps*logA - eps*floats.LogSumExp(rowBuf)
		}
		for j := range g {
			for i := range f {
				colBuf[i] = (f[i] - cost[i][j]) / eps
			}
			g[j] = eps*logB - eps*floats.LogSumExp(colBuf)
		}

		// Columns are exact after the g update; check the rows.
		var errSum float64
		for i := range f {
			for j := range g {
				rowBuf[j] = (f[i] + g[j] - cost[i][j]) / eps
			}
			errSum += math.Abs(math.Exp(floats.LogSumExp(rowBuf)) - math.Exp(logA))
		}
		if errSum < opts.Tolerance {
			break
		}
	}

	var dist float64
	for i := range f {
		for j := range g {
			dist += math.Exp((f[i]+g[j]-cost[i][j])/eps) * cost[i][j]
		}
	}
	return dist, nil
}

func subsample(points []r3.Vec, max int) []r3.Vec {
	if len(points) <= max {
		return points
	}
	out := make([]r3.Vec, 0, max)
	step := float64(len(points)) / float64(max)
	for k := 0; k < max; k++ {
		out = append(out, points[int(float64(k)*step)])
	}
	return out
}
