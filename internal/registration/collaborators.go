package registration

import (
	"context"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/organ.projection/internal/config"
	"github.com/banshee-data/organ.projection/internal/geometry"
	"github.com/banshee-data/organ.projection/internal/transform"
)

// Features holds one descriptor per point of the cloud it was computed on.
type Features [][]float64

// RigidResult is a candidate rigid alignment with its fit diagnostics.
type RigidResult struct {
	// Matrix maps source coordinates onto the target, row-major 4x4.
	Matrix [16]float64
	// Fitness is the fraction of source points with a target point within
	// the distance threshold.
	Fitness float64
	// InlierRMSE is the RMS distance over those inliers.
	InlierRMSE float64
	// Correspondences is the number of inlier pairs.
	Correspondences int
	// Iterations actually run.
	Iterations int
}

// RANSACOptions configures feature-matching registration.
type RANSACOptions struct {
	// DistanceThreshold bounds inlier distance and the distance checker.
	DistanceThreshold float64
	// EdgeLengthThreshold is the similarity in (0, 1] required between
	// corresponding edges of a sample.
	EdgeLengthThreshold float64
	MaxIterations       int
	Confidence          float64
	// RansacN is the sample size, at least 3.
	RansacN int
	// MutualFilter keeps only feature matches that are nearest in both
	// directions.
	MutualFilter bool
	Seed         int64
}

// ICPOptions configures point-to-plane refinement.
type ICPOptions struct {
	DistanceThreshold float64
	MaxIterations     int
	// RelativeFitness and RelativeRMSE stop iteration once both change by
	// less than these amounts.
	RelativeFitness float64
	RelativeRMSE    float64
}

// FeatureMatcher computes local shape descriptors and estimates a rigid
// transform from matched descriptors.
type FeatureMatcher interface {
	ComputeFeatures(pc *geometry.PointCloud, radius float64, maxNN int) (Features, error)
	MatchFeatures(source, target *geometry.PointCloud, sourceFeatures, targetFeatures Features, opts RANSACOptions) (RigidResult, error)
}

// Refiner improves an initial rigid alignment. target must carry normals.
type Refiner interface {
	Refine(source, target *geometry.PointCloud, init [16]float64, opts ICPOptions) (RigidResult, error)
}

// NonrigidRequest is one deformable registration problem.
type NonrigidRequest struct {
	Source []r3.Vec
	Target []r3.Vec
	Params config.Nonrigid
}

// NonrigidResult is the solver's decomposition of the registration: a
// similarity transform plus one displacement per anchor point.
type NonrigidResult struct {
	Scale       float64
	Rotation    transform.Mat3
	Translation r3.Vec

	// Displacement has one entry per anchor.
	Displacement []r3.Vec
	// Anchors is the downsampled proxy the displacements belong to, nil
	// when they belong to Source itself.
	Anchors []r3.Vec

	// Registered is the solver's own registered source (interpolated to
	// full resolution when downsampling was used).
	Registered []r3.Vec
}

// NonrigidSolver runs deformable registration.
type NonrigidSolver interface {
	Solve(ctx context.Context, req NonrigidRequest) (*NonrigidResult, error)
}
