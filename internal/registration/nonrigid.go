package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/organ.projection/internal/geometry"
	"github.com/banshee-data/organ.projection/internal/transform"
)

// NonrigidRegistration hands both clouds to the solver and builds one
// deformable transform from its answer. When the solver worked on a
// downsampled proxy, the transform is applied to the proxy first so the
// proxy becomes the interpolation anchors, then to the full source.
func (s *Stages) NonrigidRegistration(ctx context.Context, source, target *geometry.PointCloud) (*Result, error) {
	const stage = StageNonrigidRegistration
	if err := requireClouds(stage, source, target); err != nil {
		return nil, err
	}
	start := time.Now()
	res := newResult(stage, source, target)

	sol, err := s.Solver.Solve(ctx, NonrigidRequest{
		Source: source.Array(),
		Target: target.Array(),
		Params: *s.Params.Nonrigid,
	})
	if err != nil {
		return nil, fail(stage, err)
	}
	if err := checkSolution(sol, source.Len()); err != nil {
		return nil, fail(stage, err)
	}

	rot := sol.Rotation
	t, err := transform.New(transform.Params{
		Scale:       transform.Uniform(sol.Scale),
		Rotation:    transform.Rotation{Matrix: &rot},
		Translation: sol.Translation,
		Deformation: sol.Displacement,
	})
	if err != nil {
		return nil, fail(stage, err)
	}
	if sol.Anchors != nil {
		if _, err := t.ApplyPoints(sol.Anchors, false); err != nil {
			return nil, fail(stage, fmt.Errorf("apply to downsampled proxy: %w", err))
		}
	}

	out, err := applyCloud(t, source, false)
	if err != nil {
		return nil, fail(stage, err)
	}
	res.Outputs[RoleSource] = out
	res.Outputs[RoleRegistered] = geometry.NewPointCloud(sol.Registered, source.NormalNeighbours)
	res.Transforms[RoleSource] = t
	res.Metrics = map[string]float64{"scale": sol.Scale, "anchors": float64(len(sol.Displacement))}
	res.Duration = time.Since(start)
	return res, nil
}

func checkSolution(sol *NonrigidResult, n int) error {
	if sol == nil {
		return errors.New("solver returned no result")
	}
	if len(sol.Displacement) == 0 {
		return errors.New("solver returned an empty displacement field")
	}
	if sol.Anchors == nil && len(sol.Displacement) != n {
		return fmt.Errorf("%w: %d displacements for %d source points", transform.ErrShapeMismatch, len(sol.Displacement), n)
	}
	if sol.Anchors != nil && len(sol.Anchors) != len(sol.Displacement) {
		return fmt.Errorf("%w: %d displacements for %d proxy points", transform.ErrShapeMismatch, len(sol.Displacement), len(sol.Anchors))
	}
	if len(sol.Registered) != n {
		return fmt.Errorf("%w: %d registered points for %d source points", transform.ErrShapeMismatch, len(sol.Registered), n)
	}
	return nil
}
