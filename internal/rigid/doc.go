// Package rigid provides the default rigid registration solvers: FPFH
// shape descriptors, RANSAC over matched descriptors, and point-to-plane
// ICP. FeatureMatcher and PointToPlane satisfy the registration
// package's collaborator interfaces.
package rigid
