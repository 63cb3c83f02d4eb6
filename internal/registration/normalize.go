package registration

import (
	"errors"
	"time"

	"github.com/banshee-data/organ.projection/internal/geometry"
	"github.com/banshee-data/organ.projection/internal/transform"
)

// NormalizeRigid scales each cloud by the inverse of its largest bounding
// box side and centers it on its own centroid. The source and target
// transforms are recorded independently.
func NormalizeRigid(source, target *geometry.PointCloud) (*Result, error) {
	return normalize(StageNormalizeRigid, source, target, unitScale)
}

// NormalizeNonrigid scales each cloud by 1/sqrt(Σ‖p−c‖²/(3N)) and centers
// it, giving both clouds unit per-coordinate spread.
func NormalizeNonrigid(source, target *geometry.PointCloud) (*Result, error) {
	return normalize(StageNormalizeNonrigid, source, target, deviationScale)
}

func unitScale(pc *geometry.PointCloud) (float64, error) {
	extent := geometry.MaxExtent(pc.Points)
	if extent == 0 {
		return 0, errors.New("degenerate cloud: zero bounding box")
	}
	return 1 / extent, nil
}

func deviationScale(pc *geometry.PointCloud) (float64, error) {
	dev := geometry.RMSDeviation(pc.Points)
	if dev == 0 {
		return 0, errors.New("degenerate cloud: zero spread")
	}
	return 1 / dev, nil
}

func normalize(stage StageName, source, target *geometry.PointCloud, scale func(*geometry.PointCloud) (float64, error)) (*Result, error) {
	if err := requireClouds(stage, source, target); err != nil {
		return nil, err
	}
	start := time.Now()
	res := newResult(stage, source, target)

	for _, slot := range []struct {
		role Role
		pc   *geometry.PointCloud
	}{{RoleSource, source}, {RoleTarget, target}} {
		s, err := scale(slot.pc)
		if err != nil {
			return nil, fail(stage, err)
		}
		t := transform.MustNew(transform.Params{Scale: transform.Uniform(s)})
		out, err := applyCloud(t, slot.pc, true)
		if err != nil {
			return nil, fail(stage, err)
		}
		res.Outputs[slot.role] = out
		res.Transforms[slot.role] = t
	}

	res.Duration = time.Since(start)
	return res, nil
}
