package rigid

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/organ.projection/internal/geometry"
	"github.com/banshee-data/organ.projection/internal/registration"
	"github.com/banshee-data/organ.projection/internal/transform"
)

// ErrNoCorrespondences is returned when feature matching yields too few
// pairs to sample from.
var ErrNoCorrespondences = errors.New("rigid: too few feature correspondences")

// Matcher is the default registration.FeatureMatcher: FPFH descriptors
// matched by RANSAC.
type Matcher struct{}

var _ registration.FeatureMatcher = Matcher{}

// ComputeFeatures returns FPFH descriptors for pc. Normals are estimated
// with the same hybrid search when missing.
func (Matcher) ComputeFeatures(pc *geometry.PointCloud, radius float64, maxNN int) (registration.Features, error) {
	if pc == nil || pc.Len() == 0 {
		return nil, errors.New("rigid: empty point cloud")
	}
	if !pc.HasNormals() {
		pc = pc.Clone()
		pc.Normals = geometry.EstimateNormalsRadius(pc.Points, radius, maxNN)
	}
	f, err := FPFH(pc, radius, maxNN)
	if err != nil {
		return nil, err
	}
	return registration.Features(f), nil
}

// MatchFeatures pairs every source point with its nearest target point in
// feature space and runs RANSAC over those pairs.
func (Matcher) MatchFeatures(source, target *geometry.PointCloud, sourceFeatures, targetFeatures registration.Features, opts registration.RANSACOptions) (registration.RigidResult, error) {
	if len(sourceFeatures) != source.Len() || len(targetFeatures) != target.Len() {
		return registration.RigidResult{}, fmt.Errorf("rigid: %d/%d features for %d/%d points",
			len(sourceFeatures), len(targetFeatures), source.Len(), target.Len())
	}
	if opts.RansacN < 3 {
		opts.RansacN = 3
	}
	corres := matchFeatures(sourceFeatures, targetFeatures, opts.MutualFilter, opts.RansacN)
	return RANSAC(source.Points, target.Points, corres, opts)
}

// matchFeatures returns (source, target) index pairs of nearest features.
// With mutual set, only pairs nearest in both directions are kept unless
// that leaves fewer than 3·ransacN pairs.
func matchFeatures(sf, tf [][]float64, mutual bool, ransacN int) [][2]int {
	tix := geometry.NewFeatureIndex(tf)
	corres := make([][2]int, 0, len(sf))
	for i, f := range sf {
		if nb := tix.NearestFeature(f); nb.ID >= 0 {
			corres = append(corres, [2]int{i, nb.ID})
		}
	}
	if !mutual {
		return corres
	}

	six := geometry.NewFeatureIndex(sf)
	back := make(map[int]int, len(tf))
	var filtered [][2]int
	for _, c := range corres {
		j := c[1]
		s, ok := back[j]
		if !ok {
			s = six.NearestFeature(tf[j]).ID
			back[j] = s
		}
		if s == c[0] {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) >= 3*ransacN {
		return filtered
	}
	return corres
}

// RANSAC estimates the rigid transform best supported by corres. Each
// iteration samples RansacN pairs, rejects samples whose edge lengths
// disagree, fits with Kabsch, rejects fits that leave a sampled pair
// further apart than the distance threshold, and scores the rest by
// fitness then inlier RMSE. Iteration stops early once Confidence is met.
func RANSAC(source, target []r3.Vec, corres [][2]int, opts registration.RANSACOptions) (registration.RigidResult, error) {
	n := opts.RansacN
	if n < 3 {
		n = 3
	}
	if len(corres) < n {
		return registration.RigidResult{}, fmt.Errorf("%w: %d pairs for samples of %d", ErrNoCorrespondences, len(corres), n)
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}

	tix := geometry.NewIndex(target)
	rng := rand.New(rand.NewSource(opts.Seed))

	best := registration.RigidResult{Matrix: transform.Identity4()}
	var bestPairs [][2]int
	limit := maxIter
	src := make([]r3.Vec, n)
	dst := make([]r3.Vec, n)
	iter := 0
	for ; iter < limit; iter++ {
		for k, idx := range sample(rng, len(corres), n) {
			src[k] = source[corres[idx][0]]
			dst[k] = target[corres[idx][1]]
		}
		if !edgesAgree(src, dst, opts.EdgeLengthThreshold) {
			continue
		}
		m, err := EstimateRigid(src, dst)
		if err != nil || !samplesClose(m, src, dst, opts.DistanceThreshold) {
			continue
		}
		fitness, rmse, pairs := Evaluate(source, tix, m, opts.DistanceThreshold)
		if fitness > best.Fitness || (fitness == best.Fitness && fitness > 0 && rmse < best.InlierRMSE) {
			best = registration.RigidResult{
				Matrix:          m,
				Fitness:         fitness,
				InlierRMSE:      rmse,
				Correspondences: len(pairs),
			}
			bestPairs = pairs
			if est := iterationsForConfidence(fitness, n, opts.Confidence); est < limit {
				limit = est
			}
		}
	}
	best.Iterations = iter

	// Refit on all inliers of the winning hypothesis.
	if len(bestPairs) >= 3 {
		src, dst := make([]r3.Vec, len(bestPairs)), make([]r3.Vec, len(bestPairs))
		for k, p := range bestPairs {
			src[k], dst[k] = source[p[0]], target[p[1]]
		}
		if m, err := EstimateRigid(src, dst); err == nil {
			fitness, rmse, pairs := Evaluate(source, tix, m, opts.DistanceThreshold)
			if fitness >= best.Fitness {
				best.Matrix, best.Fitness, best.InlierRMSE, best.Correspondences = m, fitness, rmse, len(pairs)
			}
		}
	}
	return best, nil
}

// iterationsForConfidence is log(1 − confidence) / log(1 − fitnessⁿ).
func iterationsForConfidence(fitness float64, n int, confidence float64) int {
	if confidence <= 0 || confidence >= 1 {
		return math.MaxInt
	}
	p := math.Pow(fitness, float64(n))
	if p <= 0 {
		return math.MaxInt
	}
	if p >= 1 {
		return 0
	}
	est := math.Log(1-confidence) / math.Log(1-p)
	if est > float64(math.MaxInt32) {
		return math.MaxInt
	}
	return int(math.Ceil(est))
}

// edgesAgree checks every pair of sample points spans edges of similar
// length in source and target.
func edgesAgree(src, dst []r3.Vec, similarity float64) bool {
	if similarity <= 0 {
		return true
	}
	for i := range src {
		for j := i + 1; j < len(src); j++ {
			ds := r3.Norm(r3.Sub(src[i], src[j]))
			dt := r3.Norm(r3.Sub(dst[i], dst[j]))
			if ds < dt*similarity || dt < ds*similarity {
				return false
			}
		}
	}
	return true
}

func samplesClose(m [16]float64, src, dst []r3.Vec, threshold float64) bool {
	for i := range src {
		if r3.Norm(r3.Sub(transform.ApplyMatrix(m, src[i]), dst[i])) > threshold {
			return false
		}
	}
	return true
}

// sample draws n distinct indices below size.
func sample(rng *rand.Rand, size, n int) []int {
	out := make([]int, 0, n)
	for len(out) < n {
		c := rng.Intn(size)
		dup := false
		for _, o := range out {
			if o == c {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}
