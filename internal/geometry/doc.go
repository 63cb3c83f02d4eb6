// Package geometry owns the three coordinate representations used across
// registration: a raw coordinate slice, a point cloud with normals, and a
// surface (vertices plus face topology).
//
// Conversions between them are lossless re-tagging of the same coordinate
// order. Face topology is never inferred: turning points back into a
// surface always needs the caller's faces.
//
// Nothing in this package knows about registration or transforms.
package geometry
