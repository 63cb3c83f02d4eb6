package registration

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/organ.projection/internal/config"
	"github.com/banshee-data/organ.projection/internal/geometry"
	"github.com/banshee-data/organ.projection/internal/transform"
)

// Convergence thresholds for point-to-plane refinement.
const (
	refineRelativeFitness = 1e-6
	refineRelativeRMSE    = 1e-6
)

// Stages runs the solver-backed stages with one parameter set.
type Stages struct {
	Params  *config.Registration
	Matcher FeatureMatcher
	Refiner Refiner
	Solver  NonrigidSolver
}

// NewStages validates params and collaborators.
func NewStages(params *config.Registration, matcher FeatureMatcher, refiner Refiner, solver NonrigidSolver) (*Stages, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: no parameters", config.ErrMissingParameter)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if matcher == nil || refiner == nil || solver == nil {
		return nil, errors.New("registration: feature matcher, refiner and non-rigid solver are all required")
	}
	return &Stages{Params: params, Matcher: matcher, Refiner: refiner, Solver: solver}, nil
}

// GlobalRegistration voxel-downsamples both clouds, estimates normals
// (radius 2·voxel) and features (radius 5·voxel), and runs feature
// matching RANSAC. The transform is stored inactive: it only seeds
// RefineRegistration.
func (s *Stages) GlobalRegistration(source, target *geometry.PointCloud) (*Result, error) {
	const stage = StageGlobalRegistration
	if err := requireClouds(stage, source, target); err != nil {
		return nil, err
	}
	start := time.Now()
	res := newResult(stage, source, target)
	p := s.Params.Rigid
	voxel := p.GetVoxelSize()

	var down [2]*geometry.PointCloud
	var feats [2]Features
	for i, pc := range []*geometry.PointCloud{source, target} {
		d := geometry.VoxelDownsample(pc, voxel)
		if d.Len() < p.GetRansacN() {
			return nil, fail(stage, fmt.Errorf("only %d points left after downsampling at voxel %g", d.Len(), voxel))
		}
		d.Normals = geometry.EstimateNormalsRadius(d.Points, 2*voxel, p.GetMaxNN())
		d.NormalNeighbours = p.GetMaxNN()

		f, err := s.Matcher.ComputeFeatures(d, 5*voxel, p.GetMaxNN())
		if err != nil {
			return nil, fail(stage, fmt.Errorf("compute features: %w", err))
		}
		down[i], feats[i] = d, f
	}

	fit, err := s.Matcher.MatchFeatures(down[0], down[1], feats[0], feats[1], RANSACOptions{
		DistanceThreshold:   p.GetGlobalDistanceThreshold(),
		EdgeLengthThreshold: p.GetGlobalEdgeLengthThresholdFactor(),
		MaxIterations:       p.GetGlobalMaxIterations(),
		Confidence:          p.GetGlobalConfidence(),
		RansacN:             p.GetRansacN(),
		MutualFilter:        true,
	})
	if err != nil {
		return nil, fail(stage, fmt.Errorf("feature matching: %w", err))
	}

	t := transform.FromMatrix(fit.Matrix)
	t.Active = false
	res.Outputs[RoleSource] = down[0]
	res.Outputs[RoleTarget] = down[1]
	res.Transforms[RoleSource] = t
	res.Metrics = fitMetrics(fit)
	res.Duration = time.Since(start)
	return res, nil
}

// RefineRegistration runs point-to-plane ICP from seed and applies the
// refined transform to source.
func (s *Stages) RefineRegistration(source, target *geometry.PointCloud, seed *transform.Transform) (*Result, error) {
	const stage = StageRefineRegistration
	if err := requireClouds(stage, source, target); err != nil {
		return nil, err
	}
	if seed == nil {
		return nil, fail(stage, errors.New("no seed transform"))
	}
	start := time.Now()
	res := newResult(stage, source, target)
	p := s.Params.Rigid

	tgt := target
	if !tgt.HasNormals() {
		tgt = target.Clone()
		tgt.EstimateNormals(p.GetMaxNN())
	}

	fit, err := s.Refiner.Refine(source, tgt, seed.Matrix, ICPOptions{
		DistanceThreshold: p.GetRefineDistanceThreshold(),
		MaxIterations:     p.GetRefineMaxIterations(),
		RelativeFitness:   refineRelativeFitness,
		RelativeRMSE:      refineRelativeRMSE,
	})
	if err != nil {
		return nil, fail(stage, fmt.Errorf("refine: %w", err))
	}

	t := transform.FromMatrix(fit.Matrix)
	out, err := applyCloud(t, source, false)
	if err != nil {
		return nil, fail(stage, err)
	}
	res.Outputs[RoleSource] = out
	res.Transforms[RoleSource] = t
	res.Metrics = fitMetrics(fit)
	res.Duration = time.Since(start)
	return res, nil
}

func fitMetrics(r RigidResult) map[string]float64 {
	return map[string]float64{
		"fitness":         r.Fitness,
		"inlier_rmse":     r.InlierRMSE,
		"correspondences": float64(r.Correspondences),
		"iterations":      float64(r.Iterations),
	}
}
