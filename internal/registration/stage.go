package registration

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/organ.projection/internal/geometry"
	"github.com/banshee-data/organ.projection/internal/transform"
)

// ErrStageNotImplemented is returned by stages that are declared but have
// no implementation.
var ErrStageNotImplemented = errors.New("registration: stage not implemented")

// StageName identifies a stage. Values are stable and used as keys in
// projections and the run catalogue.
type StageName string

const (
	StageNormalizeRigid       StageName = "normalize_rigid"
	StageFlip                 StageName = "flip"
	StageGlobalRegistration   StageName = "global_registration"
	StageRefineRegistration   StageName = "refine_registration"
	StageNormalizeNonrigid    StageName = "normalize_nonrigid"
	StageNonrigidRegistration StageName = "nonrigid_registration"
	StageDenormalizeNonrigid  StageName = "denormalize_nonrigid"
	StageDenormalizeRigid     StageName = "denormalize_rigid"
)

// Order lists the stages a pipeline run executes, in order.
var Order = []StageName{
	StageNormalizeRigid,
	StageGlobalRegistration,
	StageRefineRegistration,
	StageNormalizeNonrigid,
	StageNonrigidRegistration,
	StageDenormalizeNonrigid,
	StageDenormalizeRigid,
}

var descriptions = map[StageName]string{
	StageNormalizeRigid:       "Scale organs to a unit bounding box about their centroids",
	StageFlip:                 "Flip organ about the Y axis to account for left and right organ differences",
	StageGlobalRegistration:   "Coarse feature-matched registration seeding rigid refinement",
	StageRefineRegistration:   "Point-to-plane ICP with scale, rotation and translation",
	StageNormalizeNonrigid:    "Normalize location and spread before non-rigid registration",
	StageNonrigidRegistration: "Non-rigid registration with local deformations (BCPD)",
	StageDenormalizeNonrigid:  "Undo the non-rigid normalization",
	StageDenormalizeRigid:     "Undo the rigid normalization",
}

// Description returns a one-line human description of the stage.
func (s StageName) Description() string {
	return descriptions[s]
}

// Inverse reports whether the stage's transform is replayed by inversion.
func (s StageName) Inverse() bool {
	return s == StageDenormalizeNonrigid || s == StageDenormalizeRigid
}

// Role names a geometry slot in a stage result.
type Role string

const (
	RoleSource     Role = "source"
	RoleTarget     Role = "target"
	RoleRegistered Role = "registered"
)

// Result is the record of one executed stage.
type Result struct {
	Stage       StageName
	Description string
	Inputs      map[Role]*geometry.PointCloud
	Outputs     map[Role]*geometry.PointCloud
	Transforms  map[Role]*transform.Transform
	// Metrics holds solver diagnostics such as fitness and inlier RMSE.
	Metrics  map[string]float64
	Duration time.Duration
}

func newResult(stage StageName, source, target *geometry.PointCloud) *Result {
	return &Result{
		Stage:       stage,
		Description: stage.Description(),
		Inputs:      map[Role]*geometry.PointCloud{RoleSource: source, RoleTarget: target},
		Outputs:     map[Role]*geometry.PointCloud{},
		Transforms:  map[Role]*transform.Transform{},
	}
}

// Output returns the output cloud for role, nil when the stage produced
// none.
func (r *Result) Output(role Role) *geometry.PointCloud {
	if r == nil {
		return nil
	}
	return r.Outputs[role]
}

// Transform returns the transform recorded for role, nil when absent.
func (r *Result) Transform(role Role) *transform.Transform {
	if r == nil {
		return nil
	}
	return r.Transforms[role]
}

// StageError reports the stage that failed and why.
type StageError struct {
	Stage StageName
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func fail(stage StageName, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Flip would mirror the source about the Y axis. It is not implemented
// and always fails.
func Flip(source, target *geometry.PointCloud) (*Result, error) {
	return nil, fail(StageFlip, ErrStageNotImplemented)
}

// applyCloud maps a point cloud through t and returns the new cloud.
func applyCloud(t *transform.Transform, pc *geometry.PointCloud, center bool) (*geometry.PointCloud, error) {
	g, err := t.Apply(pc, center)
	if err != nil {
		return nil, err
	}
	return g.(*geometry.PointCloud), nil
}

func invertCloud(t *transform.Transform, pc *geometry.PointCloud) (*geometry.PointCloud, error) {
	g, err := t.Invert(pc)
	if err != nil {
		return nil, err
	}
	return g.(*geometry.PointCloud), nil
}

func requireClouds(stage StageName, source, target *geometry.PointCloud) error {
	if source.Len() == 0 {
		return fail(stage, errors.New("empty source cloud"))
	}
	if target.Len() == 0 {
		return fail(stage, errors.New("empty target cloud"))
	}
	return nil
}
