package organ

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/organ.projection/internal/geometry"
	"github.com/banshee-data/organ.projection/internal/testutil"
)

const tol = 1e-12

func loadCatalog(t *testing.T) Catalog {
	t.Helper()
	c, err := LoadCatalog(filepath.Join("testdata", "placements.yaml"))
	require.NoError(t, err)
	return c
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	c := loadCatalog(t)
	assert.Equal(t, []string{"VHFLeftKidney", "VHMHeart"}, c.Names())

	tr, err := c.Transform("VHFLeftKidney", MillimetreFactor)
	require.NoError(t, err)
	testutil.AssertVecNear(t, tr.Translation, r3.Vec{X: 0.1}, tol)

	heart, err := c.Transform("VHMHeart", 1)
	require.NoError(t, err)
	out, err := heart.ApplyPoints([]r3.Vec{{X: 1}}, false)
	require.NoError(t, err)
	testutil.AssertVecNear(t, out[0], r3.Vec{Y: 1}, tol)

	_, err = c.Transform("VHMLiver", 1)
	assert.ErrorIs(t, err, ErrUnknownOrgan)
}

func TestLoadCatalogErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("Kidney:\n  scaling: [1, 1]\n  rotation: [0, 0, 0]\n  translation: [0, 0, 0]\n"), 0644))
	_, err := LoadCatalog(bad)
	assert.ErrorContains(t, err, "scaling has 2 components")

	malformed := filepath.Join(dir, "malformed.yaml")
	require.NoError(t, os.WriteFile(malformed, []byte("Kidney: ["), 0644))
	_, err = LoadCatalog(malformed)
	assert.Error(t, err)

	_, err = LoadCatalog(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}

func writeCube(t *testing.T, name string) string {
	t.Helper()
	v, f := testutil.UnitCube()
	s, err := geometry.NewSurface(v, f)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, geometry.SaveSurface(path, s))
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	c := loadCatalog(t)

	ref, err := Load(writeCube(t, "VHFLeftKidney.off"), c)
	require.NoError(t, err)
	assert.Equal(t, "VHFLeftKidney", ref.Name)
	require.NotNil(t, ref.Placement)
	assert.Len(t, ref.Surface.Vertices, 8)

	donor, err := Load(writeCube(t, "donor-42.off"), c)
	require.NoError(t, err)
	assert.Equal(t, "donor-42", donor.Name)
	assert.Nil(t, donor.Placement)

	_, err = Load(filepath.Join(t.TempDir(), "kidney.glb"), c)
	assert.ErrorIs(t, err, geometry.ErrUnsupportedFormat)
}

func TestClone(t *testing.T) {
	t.Parallel()

	v, f := testutil.UnitCube()
	s, err := geometry.NewSurface(v, f)
	require.NoError(t, err)
	o, err := New("cube", s, nil)
	require.NoError(t, err)

	c := o.Clone()
	c.Surface.Vertices[0] = r3.Vec{X: 9}
	assert.Equal(t, r3.Vec{}, o.Surface.Vertices[0])

	_, err = New("empty", &geometry.Surface{}, nil)
	assert.Error(t, err)
}

func TestFromSample(t *testing.T) {
	t.Parallel()

	c := loadCatalog(t)
	sample, err := LoadSample(filepath.Join("testdata", "sample.json"))
	require.NoError(t, err)
	assert.Equal(t, "VHFLeftKidney", sample.RUILocation.Placement.TargetName())

	t.Run("translated block in organ frame", func(t *testing.T) {
		t.Parallel()
		b, err := FromSample(sample, c, "")
		require.NoError(t, err)
		assert.Equal(t, "block-1", b.Label)
		assert.Equal(t, "VHFLeftKidney", b.TargetName)
		assert.Equal(t, 1e3, b.DivisionFactor)

		lo, hi := geometry.Bounds(b.Surface.Vertices)
		// 5 mm block offset, less the organ's 100 mm placement.
		testutil.AssertVecNear(t, lo, r3.Vec{X: 0.005 - 0.005 - 0.1, Y: -0.01, Z: -0.015}, tol)
		testutil.AssertVecNear(t, hi, r3.Vec{X: 0.005 + 0.005 - 0.1, Y: 0.01, Z: 0.015}, tol)

		// The placement takes the block back to the world frame.
		world, err := b.Placement.ApplyPoints(b.Surface.Vertices, false)
		require.NoError(t, err)
		wlo, _ := geometry.Bounds(world)
		testutil.AssertVecNear(t, wlo, r3.Vec{X: 0, Y: -0.01, Z: -0.015}, tol)
	})

	t.Run("rotation is extrinsic xyz", func(t *testing.T) {
		t.Parallel()
		rotated := *sample
		rotated.RUILocation.Placement.ZRotation = 90
		rotated.RUILocation.Placement.XTranslation = 100
		b, err := FromSample(&rotated, c, "")
		require.NoError(t, err)
		lo, hi := geometry.Bounds(b.Surface.Vertices)
		ext := r3.Sub(hi, lo)
		testutil.AssertVecNear(t, ext, r3.Vec{X: 0.02, Y: 0.01, Z: 0.03}, 1e-9)
		testutil.AssertVecNear(t, r3.Scale(0.5, r3.Add(lo, hi)), r3.Vec{}, 1e-9)
	})

	t.Run("explicit target overrides sample", func(t *testing.T) {
		t.Parallel()
		b, err := FromSample(sample, c, "VHMHeart")
		require.NoError(t, err)
		assert.Equal(t, "VHMHeart", b.TargetName)
	})

	t.Run("errors", func(t *testing.T) {
		t.Parallel()
		_, err := FromSample(sample, c, "VHMLiver")
		assert.ErrorIs(t, err, ErrUnknownOrgan)

		bad := *sample
		bad.RUILocation.DimensionUnits = "furlong"
		_, err = FromSample(&bad, c, "")
		assert.Error(t, err)

		flat := *sample
		flat.RUILocation.ZDimension = 0
		_, err = FromSample(&flat, c, "")
		assert.Error(t, err)
	})
}

func TestFromSurface(t *testing.T) {
	t.Parallel()

	c := loadCatalog(t)
	v, f := testutil.UnitCube()
	s, err := geometry.NewSurface(v, f)
	require.NoError(t, err)

	b, err := FromSurface("slab-3", "VHFLeftKidney", s, c)
	require.NoError(t, err)
	assert.Equal(t, "slab-3", b.Label)
	assert.Equal(t, "VHFLeftKidney", b.TargetName)
	assert.Equal(t, 1e3, b.DivisionFactor)
	assert.Equal(t, "millimeter", b.Location.DimensionUnits)

	// Vertices are kept as given and not shared with the input.
	testutil.AssertPointsNear(t, b.Surface.Vertices, v, 0)
	b.Surface.Vertices[0] = r3.Vec{X: 42}
	assert.NotEqual(t, r3.Vec{X: 42}, s.Vertices[0])

	// The 100 mm catalog translation lands in metres.
	world, err := b.Placement.ApplyPoints([]r3.Vec{{}}, false)
	require.NoError(t, err)
	testutil.AssertVecNear(t, world[0], r3.Vec{X: 0.1}, tol)

	out := b.Sample()
	assert.Equal(t, "slab-3", out.Label)
	assert.Equal(t, "http://purl.org/ccf/latest/ccf.owl#VHFLeftKidney", out.RUILocation.Placement.Target)

	_, err = FromSurface("slab-4", "VHMLiver", s, c)
	assert.ErrorIs(t, err, ErrUnknownOrgan)
	_, err = FromSurface("slab-5", "VHFLeftKidney", nil, c)
	assert.Error(t, err)
}

func TestSampleRoundTrip(t *testing.T) {
	t.Parallel()

	c := loadCatalog(t)
	sample, err := LoadSample(filepath.Join("testdata", "sample.json"))
	require.NoError(t, err)
	b, err := FromSample(sample, c, "")
	require.NoError(t, err)

	out := b.Sample()
	assert.InDelta(t, 10, out.RUILocation.XDimension, 1e-9)
	assert.InDelta(t, 20, out.RUILocation.YDimension, 1e-9)
	assert.InDelta(t, 30, out.RUILocation.ZDimension, 1e-9)
	assert.InDelta(t, -95, out.RUILocation.Placement.XTranslation, 1e-9)
	assert.Equal(t, 1.0, out.RUILocation.Placement.XScaling)
	assert.Equal(t, sample.RUILocation.Placement.Target, out.RUILocation.Placement.Target)
	assert.Equal(t, 5.0, sample.RUILocation.Placement.XTranslation, "source sample must not change")

	path, err := b.WriteSample(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "block-1.json", filepath.Base(path))
	back, err := LoadSample(path)
	require.NoError(t, err)
	assert.Equal(t, out, back)
}
