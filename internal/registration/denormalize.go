package registration

import (
	"fmt"
	"time"

	"github.com/banshee-data/organ.projection/internal/geometry"
)

// DenormalizeNonrigid undoes NormalizeNonrigid by inverting the target's
// normalization, which maps both clouds back into the rigidly normalized
// target frame.
func DenormalizeNonrigid(source, target *geometry.PointCloud, normalization *Result) (*Result, error) {
	return denormalize(StageDenormalizeNonrigid, source, target, normalization)
}

// DenormalizeRigid undoes NormalizeRigid through the target's
// normalization, returning to the target organ's working frame.
func DenormalizeRigid(source, target *geometry.PointCloud, normalization *Result) (*Result, error) {
	return denormalize(StageDenormalizeRigid, source, target, normalization)
}

func denormalize(stage StageName, source, target *geometry.PointCloud, normalization *Result) (*Result, error) {
	if err := requireClouds(stage, source, target); err != nil {
		return nil, err
	}
	t := normalization.Transform(RoleTarget)
	if t == nil {
		return nil, fail(stage, fmt.Errorf("no target normalization transform"))
	}
	start := time.Now()
	res := newResult(stage, source, target)

	src, err := invertCloud(t, source)
	if err != nil {
		return nil, fail(stage, err)
	}
	tgt, err := invertCloud(t, target)
	if err != nil {
		return nil, fail(stage, err)
	}
	res.Outputs[RoleSource] = src
	res.Outputs[RoleTarget] = tgt
	res.Transforms[RoleSource] = t
	res.Transforms[RoleTarget] = t
	res.Duration = time.Since(start)
	return res, nil
}
