package geometry

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultNormalNeighbours is the neighbourhood size used when normals are
// estimated without an explicit k.
const DefaultNormalNeighbours = 30

var (
	// ErrMissingTopology is returned when a surface is requested but no
	// faces were supplied.
	ErrMissingTopology = errors.New("geometry: surface topology (faces) is required")

	// ErrShapeMismatch is returned when a coordinate slice does not match
	// the cardinality of the geometry it should replace.
	ErrShapeMismatch = errors.New("geometry: coordinate count mismatch")
)

// Geometry is implemented by every representation that can hand out its
// coordinates and be rebuilt around new ones.
type Geometry interface {
	// Array returns a copy of the coordinates in storage order.
	Array() []r3.Vec

	// Reshape returns a new geometry of the same kind whose coordinates are
	// replaced by points. The receiver is left untouched. len(points) must
	// match the receiver's size.
	Reshape(points []r3.Vec) (Geometry, error)
}

// Points is a raw coordinate array.
type Points []r3.Vec

// Array returns a copy of the coordinates.
func (p Points) Array() []r3.Vec {
	return clonePoints(p)
}

// Reshape returns points as a new Points value.
func (p Points) Reshape(points []r3.Vec) (Geometry, error) {
	if len(points) != len(p) {
		return nil, fmt.Errorf("%w: have %d points, got %d", ErrShapeMismatch, len(p), len(points))
	}
	return Points(clonePoints(points)), nil
}

// PointCloud is an ordered set of points with optional per-point normals.
type PointCloud struct {
	Points  []r3.Vec
	Normals []r3.Vec // nil until estimated

	// NormalNeighbours is the k used for the last normal estimate.
	NormalNeighbours int
}

// NewPointCloud copies points into a new cloud and estimates normals from
// the k nearest neighbours of every point. k <= 0 uses
// DefaultNormalNeighbours.
func NewPointCloud(points []r3.Vec, k int) *PointCloud {
	pc := &PointCloud{Points: clonePoints(points)}
	pc.EstimateNormals(k)
	return pc
}

// Len returns the number of points.
func (pc *PointCloud) Len() int {
	if pc == nil {
		return 0
	}
	return len(pc.Points)
}

// HasNormals reports whether every point carries a normal.
func (pc *PointCloud) HasNormals() bool {
	return pc != nil && len(pc.Normals) == len(pc.Points) && len(pc.Points) > 0
}

// EstimateNormals replaces the cloud's normals with a PCA estimate over
// the k nearest neighbours.
func (pc *PointCloud) EstimateNormals(k int) {
	if k <= 0 {
		k = DefaultNormalNeighbours
	}
	pc.Normals = EstimateNormals(pc.Points, k)
	pc.NormalNeighbours = k
}

// Array returns a copy of the cloud's coordinates.
func (pc *PointCloud) Array() []r3.Vec {
	return clonePoints(pc.Points)
}

// Reshape returns a new cloud holding points. If the receiver had normals
// they are re-estimated for the new coordinates with the same k.
func (pc *PointCloud) Reshape(points []r3.Vec) (Geometry, error) {
	if len(points) != len(pc.Points) {
		return nil, fmt.Errorf("%w: have %d points, got %d", ErrShapeMismatch, len(pc.Points), len(points))
	}
	out := &PointCloud{Points: clonePoints(points)}
	if pc.HasNormals() {
		out.EstimateNormals(pc.NormalNeighbours)
	}
	return out, nil
}

// ReshapeNormals returns a new cloud holding points whose normals are the
// receiver's normals taken through mapNormal and rescaled to unit length.
// It is the cheap path for linear motions, where the surface orientation
// follows the map exactly. Without normals it behaves like Reshape.
func (pc *PointCloud) ReshapeNormals(points []r3.Vec, mapNormal func(r3.Vec) r3.Vec) (*PointCloud, error) {
	if len(points) != len(pc.Points) {
		return nil, fmt.Errorf("%w: have %d points, got %d", ErrShapeMismatch, len(pc.Points), len(points))
	}
	out := &PointCloud{Points: clonePoints(points)}
	if !pc.HasNormals() {
		return out, nil
	}
	out.Normals = make([]r3.Vec, len(pc.Normals))
	for i, n := range pc.Normals {
		m := mapNormal(n)
		if r3.Norm(m) > 0 {
			m = r3.Unit(m)
		}
		out.Normals[i] = m
	}
	out.NormalNeighbours = pc.NormalNeighbours
	return out, nil
}

// Clone returns a deep copy.
func (pc *PointCloud) Clone() *PointCloud {
	if pc == nil {
		return nil
	}
	return &PointCloud{
		Points:           clonePoints(pc.Points),
		Normals:          clonePoints(pc.Normals),
		NormalNeighbours: pc.NormalNeighbours,
	}
}

// Surface attaches faces to the cloud's points.
func (pc *PointCloud) Surface(faces [][3]int) (*Surface, error) {
	return NewSurface(pc.Points, faces)
}

// Surface is a set of vertices with triangular face connectivity.
type Surface struct {
	Vertices []r3.Vec
	Faces    [][3]int
	Metadata map[string]string
}

// NewSurface copies vertices and faces into a new Surface. Every face index
// must address an existing vertex.
func NewSurface(vertices []r3.Vec, faces [][3]int) (*Surface, error) {
	if len(faces) == 0 {
		return nil, ErrMissingTopology
	}
	for i, f := range faces {
		for _, idx := range f {
			if idx < 0 || idx >= len(vertices) {
				return nil, fmt.Errorf("geometry: face %d references vertex %d of %d", i, idx, len(vertices))
			}
		}
	}
	return &Surface{
		Vertices: clonePoints(vertices),
		Faces:    cloneFaces(faces),
		Metadata: map[string]string{},
	}, nil
}

// Array returns a copy of the vertex coordinates.
func (s *Surface) Array() []r3.Vec {
	return clonePoints(s.Vertices)
}

// Reshape returns a new surface with the same faces and metadata and the
// given vertex positions.
func (s *Surface) Reshape(points []r3.Vec) (Geometry, error) {
	if len(points) != len(s.Vertices) {
		return nil, fmt.Errorf("%w: have %d vertices, got %d", ErrShapeMismatch, len(s.Vertices), len(points))
	}
	out := s.Clone()
	out.Vertices = clonePoints(points)
	return out, nil
}

// SetVertices overwrites the vertex positions in place, keeping topology.
func (s *Surface) SetVertices(points []r3.Vec) error {
	if len(points) != len(s.Vertices) {
		return fmt.Errorf("%w: have %d vertices, got %d", ErrShapeMismatch, len(s.Vertices), len(points))
	}
	copy(s.Vertices, points)
	return nil
}

// PointCloud returns the vertices as a point cloud with estimated normals.
func (s *Surface) PointCloud(k int) *PointCloud {
	return NewPointCloud(s.Vertices, k)
}

// Clone returns a deep copy.
func (s *Surface) Clone() *Surface {
	if s == nil {
		return nil
	}
	meta := make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		meta[k] = v
	}
	return &Surface{
		Vertices: clonePoints(s.Vertices),
		Faces:    cloneFaces(s.Faces),
		Metadata: meta,
	}
}

// ToPointCloud converts any geometry into a point cloud. Clouds that
// already carry normals are copied as-is.
func ToPointCloud(g Geometry, k int) *PointCloud {
	if pc, ok := g.(*PointCloud); ok && pc.HasNormals() {
		return pc.Clone()
	}
	return NewPointCloud(g.Array(), k)
}

// ToSurface converts any geometry into a surface using the supplied faces.
func ToSurface(g Geometry, faces [][3]int) (*Surface, error) {
	if s, ok := g.(*Surface); ok && faces == nil {
		return s.Clone(), nil
	}
	if faces == nil {
		return nil, ErrMissingTopology
	}
	return NewSurface(g.Array(), faces)
}

func clonePoints(points []r3.Vec) []r3.Vec {
	if points == nil {
		return nil
	}
	out := make([]r3.Vec, len(points))
	copy(out, points)
	return out
}

func cloneFaces(faces [][3]int) [][3]int {
	if faces == nil {
		return nil
	}
	out := make([][3]int, len(faces))
	copy(out, faces)
	return out
}
