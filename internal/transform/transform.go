package transform

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/organ.projection/internal/geometry"
)

var (
	// ErrUnsupportedInversion is returned by Invert on a transform that
	// carries a deformation field.
	ErrUnsupportedInversion = errors.New("transform: inversion not supported on deformation field transforms")

	// ErrShapeMismatch is returned when a deformation field is applied to a
	// geometry whose point count does not match the field it adopts as
	// anchors.
	ErrShapeMismatch = errors.New("transform: geometry does not match deformation field length")

	// ErrSingular is returned when the affine matrix has no inverse.
	ErrSingular = errors.New("transform: matrix is singular")
)

// Kind tags the three transform variants.
type Kind int

const (
	KindAffine Kind = iota
	KindAffineCentered
	KindDeformable
)

func (k Kind) String() string {
	switch k {
	case KindAffine:
		return "affine"
	case KindAffineCentered:
		return "affine_centered"
	case KindDeformable:
		return "deformable"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Rotation is either a set of Euler angles in degrees with their axis
// order, or a raw 3x3 rotation matrix. Matrix wins when set.
type Rotation struct {
	Angles [3]float64
	Order  string
	Matrix *Mat3
}

// Params describes a transform by its components.
type Params struct {
	// Scale is per axis. The zero value means unit scale; use Uniform for
	// a scalar.
	Scale       r3.Vec
	Rotation    Rotation
	Translation r3.Vec

	// Deformation, when set, is one displacement per anchor point.
	Deformation []r3.Vec
	// Anchors are the coordinates Deformation is defined at. When nil they
	// are adopted from the first geometry the transform is applied to.
	Anchors []r3.Vec

	// Inactive marks a transform that is computed but not replayed.
	Inactive bool
}

// Uniform returns the per-axis scale for a scalar factor.
func Uniform(s float64) r3.Vec {
	return r3.Vec{X: s, Y: s, Z: s}
}

// Transform maps coordinates by s·R·(p − c) + t, where c is the centroid
// recorded on first centered use. A deformation field replaces the affine
// map with s·R·(p − c + u(p − c) + t).
type Transform struct {
	Scale       r3.Vec
	Rotation    Mat3
	Translation r3.Vec

	// Matrix is row-major [R·diag(s) | t; 0 0 0 1].
	Matrix [16]float64

	Deformation []r3.Vec

	// Active reports whether a projection replays this transform.
	Active bool

	mu       sync.Mutex
	centered bool
	centroid r3.Vec
	anchors  []r3.Vec
	inverse  *[16]float64
	interp   *geometry.Index
}

// New builds a transform from its components.
func New(p Params) (*Transform, error) {
	scale := p.Scale
	if scale == (r3.Vec{}) {
		scale = Uniform(1)
	}

	var rot Mat3
	if p.Rotation.Matrix != nil {
		rot = *p.Rotation.Matrix
	} else {
		var err error
		if rot, err = EulerMatrix(p.Rotation.Order, p.Rotation.Angles); err != nil {
			return nil, err
		}
	}

	if p.Deformation != nil && len(p.Deformation) == 0 {
		return nil, fmt.Errorf("%w: empty deformation field", ErrShapeMismatch)
	}
	if p.Anchors != nil && len(p.Anchors) != len(p.Deformation) {
		return nil, fmt.Errorf("%w: %d anchors for %d displacements", ErrShapeMismatch, len(p.Anchors), len(p.Deformation))
	}

	t := &Transform{
		Scale:       scale,
		Rotation:    rot,
		Translation: p.Translation,
		Matrix:      compose(rot, scale, p.Translation),
		Deformation: clonePoints(p.Deformation),
		Active:      !p.Inactive,
		anchors:     clonePoints(p.Anchors),
	}
	return t, nil
}

// MustNew is New for literal parameters known to be valid.
func MustNew(p Params) *Transform {
	t, err := New(p)
	if err != nil {
		panic(err)
	}
	return t
}

// FromMatrix wraps an existing 4x4 row-major matrix. Scale, rotation and
// translation are recovered with Decompose for reporting; the matrix itself
// is used unchanged.
func FromMatrix(m [16]float64) *Transform {
	d := Decompose(m)
	rot, _ := EulerMatrix(DefaultOrder, d.Angles)
	return &Transform{
		Scale:       d.Scale,
		Rotation:    rot,
		Translation: d.Translation,
		Matrix:      m,
		Active:      true,
	}
}

// Identity returns the identity transform.
func Identity() *Transform {
	return FromMatrix(Identity4())
}

// Identity4 returns the 4x4 identity in row-major order.
func Identity4() [16]float64 {
	return [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

func compose(rot Mat3, s, t r3.Vec) [16]float64 {
	return [16]float64{
		rot[0] * s.X, rot[1] * s.Y, rot[2] * s.Z, t.X,
		rot[3] * s.X, rot[4] * s.Y, rot[5] * s.Z, t.Y,
		rot[6] * s.X, rot[7] * s.Y, rot[8] * s.Z, t.Z,
		0, 0, 0, 1,
	}
}

// Kind reports the transform's variant.
func (t *Transform) Kind() Kind {
	if t.Deformation != nil {
		return KindDeformable
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.centered {
		return KindAffineCentered
	}
	return KindAffine
}

// Centroid returns the recorded centering offset and whether one exists.
func (t *Transform) Centroid() (r3.Vec, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.centroid, t.centered
}

// Apply maps g and returns a new geometry of the same kind. With center
// set, the first call records g's centroid; once recorded, the centroid
// is subtracted on every later call regardless of center.
func (t *Transform) Apply(g geometry.Geometry, center bool) (geometry.Geometry, error) {
	out, err := t.ApplyPoints(g.Array(), center)
	if err != nil {
		return nil, err
	}
	if t.Deformation != nil {
		return g.Reshape(out)
	}
	return reshapeLinear(g, out, t.Matrix)
}

// ApplyPoints is Apply on a raw coordinate slice. points is not modified.
func (t *Transform) ApplyPoints(points []r3.Vec, center bool) ([]r3.Vec, error) {
	pts := t.center(points, center)

	if t.Deformation == nil {
		for i, p := range pts {
			pts[i] = ApplyMatrix(t.Matrix, p)
		}
		return pts, nil
	}

	ix, err := t.interpolator(pts)
	if err != nil {
		return nil, err
	}
	lin := t.Matrix
	lin[3], lin[7], lin[11] = 0, 0, 0
	for i, p := range pts {
		u := t.Deformation[ix.Nearest(p).ID]
		pts[i] = ApplyMatrix(lin, r3.Add(r3.Add(p, u), t.Translation))
	}
	return pts, nil
}

// Invert maps g through the inverse transform and returns a new geometry
// of the same kind. A recorded centroid is added back afterwards.
func (t *Transform) Invert(g geometry.Geometry) (geometry.Geometry, error) {
	out, err := t.InvertPoints(g.Array())
	if err != nil {
		return nil, err
	}
	inv, err := t.Inverse()
	if err != nil {
		return nil, err
	}
	return reshapeLinear(g, out, inv)
}

// reshapeLinear rebuilds g around points moved by the affine m. Cloud
// normals go through the inverse transpose of m's linear block instead of
// being re-estimated.
func reshapeLinear(g geometry.Geometry, points []r3.Vec, m [16]float64) (geometry.Geometry, error) {
	pc, ok := g.(*geometry.PointCloud)
	if !ok || !pc.HasNormals() {
		return g.Reshape(points)
	}
	cof := cofactor(m)
	return pc.ReshapeNormals(points, func(n r3.Vec) r3.Vec {
		return r3.Vec{
			X: cof[0]*n.X + cof[1]*n.Y + cof[2]*n.Z,
			Y: cof[3]*n.X + cof[4]*n.Y + cof[5]*n.Z,
			Z: cof[6]*n.X + cof[7]*n.Y + cof[8]*n.Z,
		}
	})
}

// cofactor returns |det L| times the inverse transpose of m's linear block
// L, row-major.
func cofactor(m [16]float64) [9]float64 {
	a, b, c := m[0], m[1], m[2]
	d, e, f := m[4], m[5], m[6]
	g, h, i := m[8], m[9], m[10]
	cof := [9]float64{
		e*i - f*h, f*g - d*i, d*h - e*g,
		c*h - b*i, a*i - c*g, b*g - a*h,
		b*f - c*e, c*d - a*f, a*e - b*d,
	}
	if a*cof[0]+b*cof[1]+c*cof[2] < 0 {
		for k := range cof {
			cof[k] = -cof[k]
		}
	}
	return cof
}

// InvertPoints is Invert on a raw coordinate slice.
func (t *Transform) InvertPoints(points []r3.Vec) ([]r3.Vec, error) {
	inv, err := t.Inverse()
	if err != nil {
		return nil, err
	}
	c, centered := t.Centroid()
	out := make([]r3.Vec, len(points))
	for i, p := range points {
		out[i] = ApplyMatrix(inv, p)
		if centered {
			out[i] = r3.Add(out[i], c)
		}
	}
	return out, nil
}

// Inverse returns the inverse matrix, computing it once.
func (t *Transform) Inverse() ([16]float64, error) {
	if t.Deformation != nil {
		return [16]float64{}, ErrUnsupportedInversion
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inverse != nil {
		return *t.inverse, nil
	}

	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(4, 4, t.Matrix[:])); err != nil {
		return [16]float64{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	var out [16]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = inv.At(r, c)
		}
	}
	t.inverse = &out
	return out, nil
}

// center copies points, recording the centroid on first centered use and
// subtracting it whenever one is recorded.
func (t *Transform) center(points []r3.Vec, center bool) []r3.Vec {
	t.mu.Lock()
	if center && !t.centered {
		t.centroid = geometry.Centroid(points)
		t.centered = true
	}
	centered, c := t.centered, t.centroid
	t.mu.Unlock()

	out := make([]r3.Vec, len(points))
	for i, p := range points {
		if centered {
			p = r3.Sub(p, c)
		}
		out[i] = p
	}
	return out
}

// interpolator returns the nearest neighbour index over the anchors,
// adopting points as anchors when none were given.
func (t *Transform) interpolator(points []r3.Vec) (*geometry.Index, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.interp != nil {
		return t.interp, nil
	}
	if t.anchors == nil {
		if len(points) != len(t.Deformation) {
			return nil, fmt.Errorf("%w: %d points for %d displacements", ErrShapeMismatch, len(points), len(t.Deformation))
		}
		t.anchors = clonePoints(points)
	}
	if len(t.anchors) == 0 {
		return nil, fmt.Errorf("%w: no deformation anchors", ErrShapeMismatch)
	}
	t.interp = geometry.NewIndex(t.anchors)
	return t.interp, nil
}

// Anchors returns a copy of the deformation anchor coordinates, nil until
// they are known.
func (t *Transform) Anchors() []r3.Vec {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clonePoints(t.anchors)
}

// ApplyMatrix maps p through a row-major 4x4 affine matrix.
func ApplyMatrix(m [16]float64, p r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*p.X + m[1]*p.Y + m[2]*p.Z + m[3],
		Y: m[4]*p.X + m[5]*p.Y + m[6]*p.Z + m[7],
		Z: m[8]*p.X + m[9]*p.Y + m[10]*p.Z + m[11],
	}
}

// MulMatrix returns the product a·b of two row-major 4x4 matrices.
func MulMatrix(a, b [16]float64) [16]float64 {
	var out [16]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a[r*4+k] * b[k*4+c]
			}
			out[r*4+c] = sum
		}
	}
	return out
}

func clonePoints(points []r3.Vec) []r3.Vec {
	if points == nil {
		return nil
	}
	out := make([]r3.Vec, len(points))
	copy(out, points)
	return out
}
