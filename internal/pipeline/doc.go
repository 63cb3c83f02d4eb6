// Package pipeline runs the registration stages for a source and target
// organ and packages the transforms they produce into a Projection.
//
// A Projection is the persisted result of one run. It replays the active
// transforms, in stage order, on geometry the run never saw (a tissue
// block cut from the source organ, for instance) and finally moves the
// result into the target organ's published frame. The pipeline itself
// owns no numerics: it threads stage outputs into the next stage and
// records what happened.
package pipeline
