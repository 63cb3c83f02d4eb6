// Package registration implements the seven stages that align a source
// organ surface with a target: rigid normalization, global feature
// registration, point-to-plane refinement, non-rigid normalization,
// non-rigid registration and the two denormalizations.
//
// Every stage takes point clouds and returns a Result holding fresh
// outputs and the transforms it produced. Inputs are never modified.
// The numerical solvers are reached through the FeatureMatcher, Refiner
// and NonrigidSolver interfaces.
package registration
