package organ

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/organ.projection/internal/geometry"
)

// boxFaces triangulates the eight corners produced by box, two triangles
// per side, wound outward.
var boxFaces = [][3]int{
	{0, 2, 1}, {1, 2, 3}, // -z
	{4, 5, 6}, {5, 7, 6}, // +z
	{0, 1, 4}, {1, 5, 4}, // -y
	{2, 6, 3}, {3, 6, 7}, // +y
	{0, 4, 2}, {2, 4, 6}, // -x
	{1, 3, 5}, {3, 7, 5}, // +x
}

// box returns an axis-aligned box of the given extents centred at the
// origin. Corner i has x, y and z taken from bits 0, 1 and 2 of i.
func box(extents r3.Vec) *geometry.Surface {
	h := r3.Scale(0.5, extents)
	v := make([]r3.Vec, 8)
	for i := range v {
		c := r3.Vec{X: -h.X, Y: -h.Y, Z: -h.Z}
		if i&1 != 0 {
			c.X = h.X
		}
		if i&2 != 0 {
			c.Y = h.Y
		}
		if i&4 != 0 {
			c.Z = h.Z
		}
		v[i] = c
	}
	s, _ := geometry.NewSurface(v, boxFaces)
	return s
}
