package transform

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// state is the persisted form of a Transform. The inverse matrix and the
// interpolator are rebuilt on demand after loading.
type state struct {
	Kind        string       `json:"kind"`
	Scale       [3]float64   `json:"scale"`
	Rotation    [9]float64   `json:"rotation"`
	Translation [3]float64   `json:"translation"`
	Matrix      [16]float64  `json:"matrix"`
	Active      bool         `json:"active"`
	Centroid    *[3]float64  `json:"centroid,omitempty"`
	Deformation [][3]float64 `json:"deformation,omitempty"`
	Anchors     [][3]float64 `json:"anchors,omitempty"`
}

// MarshalJSON encodes the transform with its recorded centroid and
// deformation anchors so that replay after loading is identical.
func (t *Transform) MarshalJSON() ([]byte, error) {
	t.mu.Lock()
	s := state{
		Scale:       vecArray(t.Scale),
		Rotation:    t.Rotation,
		Translation: vecArray(t.Translation),
		Matrix:      t.Matrix,
		Active:      t.Active,
		Deformation: arrays(t.Deformation),
		Anchors:     arrays(t.anchors),
	}
	if t.centered {
		c := vecArray(t.centroid)
		s.Centroid = &c
	}
	t.mu.Unlock()
	s.Kind = t.Kind().String()
	return json.Marshal(s)
}

// UnmarshalJSON restores a transform written by MarshalJSON.
func (t *Transform) UnmarshalJSON(data []byte) error {
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode transform: %w", err)
	}
	if s.Deformation != nil && len(s.Deformation) == 0 {
		return fmt.Errorf("%w: empty deformation field", ErrShapeMismatch)
	}
	if s.Anchors != nil && len(s.Anchors) != len(s.Deformation) {
		return fmt.Errorf("%w: %d anchors for %d displacements", ErrShapeMismatch, len(s.Anchors), len(s.Deformation))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.Scale = arrayVec(s.Scale)
	t.Rotation = s.Rotation
	t.Translation = arrayVec(s.Translation)
	t.Matrix = s.Matrix
	t.Active = s.Active
	t.Deformation = vecs(s.Deformation)
	t.anchors = vecs(s.Anchors)
	t.centered = s.Centroid != nil
	t.centroid = r3.Vec{}
	if s.Centroid != nil {
		t.centroid = arrayVec(*s.Centroid)
	}
	t.inverse = nil
	t.interp = nil
	return nil
}

func vecArray(v r3.Vec) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func arrayVec(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }

func arrays(points []r3.Vec) [][3]float64 {
	if points == nil {
		return nil
	}
	out := make([][3]float64, len(points))
	for i, p := range points {
		out[i] = vecArray(p)
	}
	return out
}

func vecs(a [][3]float64) []r3.Vec {
	if a == nil {
		return nil
	}
	out := make([]r3.Vec, len(a))
	for i, v := range a {
		out[i] = arrayVec(v)
	}
	return out
}
