// Package transform implements the spatial transforms chained by the
// registration pipeline: an affine 4x4 matrix, optionally preceded by
// centering on a recorded centroid, optionally carrying a dense
// deformation field that is interpolated onto unseen points.
//
// A Transform memoises three things the first time they are needed: the
// centroid used for centering, the inverse matrix, and the nearest
// neighbour interpolator over the deformation anchors. After that it is
// safe for concurrent use.
package transform
