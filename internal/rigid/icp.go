package rigid

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/organ.projection/internal/geometry"
	"github.com/banshee-data/organ.projection/internal/registration"
	"github.com/banshee-data/organ.projection/internal/transform"
)

// PointToPlane is the default registration.Refiner: ICP minimising the
// distance from each source point to the tangent plane of its nearest
// target point.
type PointToPlane struct{}

var _ registration.Refiner = PointToPlane{}

// Refine iterates from init until fitness and inlier RMSE both change by
// less than the relative thresholds, or MaxIterations is reached. With no
// correspondences within the distance threshold, init is returned with
// zero fitness.
func (PointToPlane) Refine(source, target *geometry.PointCloud, init [16]float64, opts registration.ICPOptions) (registration.RigidResult, error) {
	if source == nil || target == nil || source.Len() == 0 || target.Len() == 0 {
		return registration.RigidResult{}, errors.New("rigid: empty point cloud")
	}
	if !target.HasNormals() {
		return registration.RigidResult{}, ErrNoNormals
	}

	tix := geometry.NewIndex(target.Points)
	current := init
	fitness, rmse, pairs := Evaluate(source.Points, tix, current, opts.DistanceThreshold)
	res := registration.RigidResult{Matrix: current, Fitness: fitness, InlierRMSE: rmse, Correspondences: len(pairs)}

	for iter := 0; iter < opts.MaxIterations; iter++ {
		if len(pairs) < 6 {
			break
		}
		step, err := pointToPlaneStep(source.Points, target, current, pairs)
		if err != nil {
			return res, fmt.Errorf("iteration %d: %w", iter, err)
		}
		current = transform.MulMatrix(step, current)

		prevFitness, prevRMSE := fitness, rmse
		fitness, rmse, pairs = Evaluate(source.Points, tix, current, opts.DistanceThreshold)
		res = registration.RigidResult{
			Matrix:          current,
			Fitness:         fitness,
			InlierRMSE:      rmse,
			Correspondences: len(pairs),
			Iterations:      iter + 1,
		}
		if math.Abs(prevFitness-fitness) < opts.RelativeFitness && math.Abs(prevRMSE-rmse) < opts.RelativeRMSE {
			break
		}
	}
	return res, nil
}

// pointToPlaneStep solves the linearised least squares problem
// min Σ ((R·p + t − q)·n)² for a small rotation (α, β, γ) and translation,
// and returns the incremental matrix.
func pointToPlaneStep(source []r3.Vec, target *geometry.PointCloud, current [16]float64, pairs [][2]int) ([16]float64, error) {
	ata := mat.NewSymDense(6, nil)
	atb := mat.NewVecDense(6, nil)
	row := make([]float64, 6)
	for _, pr := range pairs {
		p := transform.ApplyMatrix(current, source[pr[0]])
		q := target.Points[pr[1]]
		n := target.Normals[pr[1]]
		c := r3.Cross(p, n)
		row[0], row[1], row[2] = c.X, c.Y, c.Z
		row[3], row[4], row[5] = n.X, n.Y, n.Z
		r := r3.Dot(r3.Sub(p, q), n)
		for i := 0; i < 6; i++ {
			for j := i; j < 6; j++ {
				ata.SetSym(i, j, ata.At(i, j)+row[i]*row[j])
			}
			atb.SetVec(i, atb.AtVec(i)-row[i]*r)
		}
	}

	var chol mat.Cholesky
	var x mat.VecDense
	if ok := chol.Factorize(ata); ok {
		if err := chol.SolveVecTo(&x, atb); err != nil {
			return [16]float64{}, err
		}
	} else if err := x.SolveVec(ata, atb); err != nil {
		return [16]float64{}, fmt.Errorf("point-to-plane system: %w", err)
	}

	rot, err := transform.EulerMatrix(transform.DefaultOrder, [3]float64{
		degrees(x.AtVec(0)), degrees(x.AtVec(1)), degrees(x.AtVec(2)),
	})
	if err != nil {
		return [16]float64{}, err
	}
	return [16]float64{
		rot[0], rot[1], rot[2], x.AtVec(3),
		rot[3], rot[4], rot[5], x.AtVec(4),
		rot[6], rot[7], rot[8], x.AtVec(5),
		0, 0, 0, 1,
	}, nil
}
