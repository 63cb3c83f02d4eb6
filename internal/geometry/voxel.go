package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

type voxelKey [3]int64

type voxelAcc struct {
	sum    r3.Vec
	normal r3.Vec
	count  int
}

// VoxelDownsample reduces the cloud to one point per cubic voxel of side
// size: the mean of the points that fall in it. Normals, when present, are
// averaged and renormalised. Output order follows the first point seen in
// each voxel. A nil or empty cloud returns nil; size <= 0 returns a copy.
func VoxelDownsample(pc *PointCloud, size float64) *PointCloud {
	if pc.Len() == 0 {
		return nil
	}
	if size <= 0 {
		return pc.Clone()
	}

	min, _ := Bounds(pc.Points)
	withNormals := pc.HasNormals()

	index := make(map[voxelKey]int, pc.Len()/4)
	var accs []voxelAcc
	for i, p := range pc.Points {
		key := voxelKey{
			int64(math.Floor((p.X - min.X) / size)),
			int64(math.Floor((p.Y - min.Y) / size)),
			int64(math.Floor((p.Z - min.Z) / size)),
		}
		slot, ok := index[key]
		if !ok {
			slot = len(accs)
			index[key] = slot
			accs = append(accs, voxelAcc{})
		}
		accs[slot].sum = r3.Add(accs[slot].sum, p)
		if withNormals {
			accs[slot].normal = r3.Add(accs[slot].normal, pc.Normals[i])
		}
		accs[slot].count++
	}

	out := &PointCloud{Points: make([]r3.Vec, len(accs)), NormalNeighbours: pc.NormalNeighbours}
	if withNormals {
		out.Normals = make([]r3.Vec, len(accs))
	}
	for i, a := range accs {
		out.Points[i] = r3.Scale(1/float64(a.count), a.sum)
		if withNormals {
			if r3.Norm(a.normal) > 0 {
				out.Normals[i] = r3.Unit(a.normal)
			} else {
				out.Normals[i] = r3.Vec{Z: 1}
			}
		}
	}
	return out
}
