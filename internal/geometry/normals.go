package geometry

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// EstimateNormals returns one unit normal per point from a PCA fit over the
// k nearest neighbours. Normals are oriented away from the cloud centroid
// so estimates agree across rigidly moved copies of the same shape.
func EstimateNormals(points []r3.Vec, k int) []r3.Vec {
	if len(points) == 0 {
		return nil
	}
	ix := NewIndex(points)
	c := Centroid(points)
	normals := make([]r3.Vec, len(points))
	for i, p := range points {
		normals[i] = orient(fitNormal(points, ix.KNearest(p, k)), p, c)
	}
	return normals
}

// EstimateNormalsRadius is EstimateNormals with a hybrid search: neighbours
// within radius, capped at maxNN.
func EstimateNormalsRadius(points []r3.Vec, radius float64, maxNN int) []r3.Vec {
	if len(points) == 0 {
		return nil
	}
	ix := NewIndex(points)
	c := Centroid(points)
	normals := make([]r3.Vec, len(points))
	for i, p := range points {
		normals[i] = orient(fitNormal(points, ix.WithinRadius(p, radius, maxNN)), p, c)
	}
	return normals
}

// fitNormal returns the eigenvector of the neighbourhood covariance with
// the smallest eigenvalue. Degenerate neighbourhoods fall back to +Z.
func fitNormal(points []r3.Vec, nb []Neighbour) r3.Vec {
	if len(nb) < 3 {
		return r3.Vec{Z: 1}
	}
	sel := make([]r3.Vec, len(nb))
	for i, n := range nb {
		sel[i] = points[n.ID]
	}
	mean := Centroid(sel)

	var cxx, cxy, cxz, cyy, cyz, czz float64
	for _, p := range sel {
		d := r3.Sub(p, mean)
		cxx += d.X * d.X
		cxy += d.X * d.Y
		cxz += d.X * d.Z
		cyy += d.Y * d.Y
		cyz += d.Y * d.Z
		czz += d.Z * d.Z
	}
	cov := mat.NewSymDense(3, []float64{
		cxx, cxy, cxz,
		cxy, cyy, cyz,
		cxz, cyz, czz,
	})

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return r3.Vec{Z: 1}
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// Eigenvalues are ascending; column 0 is the surface normal.
	n := r3.Vec{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	if r3.Norm(n) == 0 {
		return r3.Vec{Z: 1}
	}
	return r3.Unit(n)
}

func orient(n, p, centroid r3.Vec) r3.Vec {
	if r3.Dot(n, r3.Sub(p, centroid)) < 0 {
		return r3.Scale(-1, n)
	}
	return n
}
