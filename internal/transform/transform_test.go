package transform

import (
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/organ.projection/internal/geometry"
	"github.com/banshee-data/organ.projection/internal/testutil"
)

const tol = 1e-9

func TestNewComposesMatrix(t *testing.T) {
	t.Parallel()

	tr, err := New(Params{
		Scale:       r3.Vec{X: 2, Y: 3, Z: 4},
		Rotation:    Rotation{Angles: [3]float64{0, 0, 90}},
		Translation: r3.Vec{X: 1, Y: 2, Z: 3},
	})
	require.NoError(t, err)
	assert.True(t, tr.Active)
	assert.Equal(t, KindAffine, tr.Kind())

	// Scale first, then rotate 90° about z, then translate.
	got := ApplyMatrix(tr.Matrix, r3.Vec{X: 1})
	testutil.AssertVecNear(t, got, r3.Vec{X: 1, Y: 4, Z: 3}, tol)
	assert.Equal(t, [4]float64{0, 0, 0, 1}, [4]float64{tr.Matrix[12], tr.Matrix[13], tr.Matrix[14], tr.Matrix[15]})
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	tr, err := New(Params{})
	require.NoError(t, err)
	assert.Equal(t, Identity4(), tr.Matrix)
	assert.Equal(t, Uniform(1), tr.Scale)

	inactive := MustNew(Params{Inactive: true})
	assert.False(t, inactive.Active)
}

func TestNewRawRotationMatrix(t *testing.T) {
	t.Parallel()

	r := Mat3{0, -1, 0, 1, 0, 0, 0, 0, 1}
	tr, err := New(Params{Rotation: Rotation{Matrix: &r, Angles: [3]float64{45, 45, 45}}})
	require.NoError(t, err)
	testutil.AssertVecNear(t, ApplyMatrix(tr.Matrix, r3.Vec{X: 1}), r3.Vec{Y: 1}, tol)
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := New(Params{Rotation: Rotation{Order: "xxz"}})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = New(Params{
		Deformation: []r3.Vec{{}, {}},
		Anchors:     []r3.Vec{{}},
	})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestApplyInvertRoundTrip(t *testing.T) {
	t.Parallel()

	pts := testutil.Lumpy()
	tests := []struct {
		name   string
		params Params
		center bool
	}{
		{"identity", Params{}, false},
		{"uniform scale", Params{Scale: Uniform(0.25)}, false},
		{"anisotropic", Params{
			Scale:       r3.Vec{X: 1.5, Y: 0.5, Z: 2},
			Rotation:    Rotation{Angles: [3]float64{10, -35, 120}},
			Translation: r3.Vec{X: 4, Y: -2, Z: 0.5},
		}, false},
		{"intrinsic centered", Params{
			Scale:    Uniform(3),
			Rotation: Rotation{Angles: [3]float64{30, 60, 90}, Order: "ZYX"},
		}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr := MustNew(tc.params)
			out, err := tr.ApplyPoints(pts, tc.center)
			require.NoError(t, err)
			back, err := tr.InvertPoints(out)
			require.NoError(t, err)
			testutil.AssertPointsNear(t, back, pts, 1e-9)
		})
	}
}

func TestApplyPreservesGeometryKind(t *testing.T) {
	t.Parallel()

	v, f := testutil.UnitCube()
	s, err := geometry.NewSurface(v, f)
	require.NoError(t, err)

	tr := MustNew(Params{Translation: r3.Vec{Z: 1}})
	g, err := tr.Apply(s, false)
	require.NoError(t, err)
	out, ok := g.(*geometry.Surface)
	require.True(t, ok)
	assert.Equal(t, s.Faces, out.Faces)
	testutil.AssertVecNear(t, out.Vertices[0], r3.Vec{Z: 1}, tol)
	assert.Equal(t, r3.Vec{}, s.Vertices[0], "input must not be mutated")

	back, err := tr.Invert(g)
	require.NoError(t, err)
	testutil.AssertPointsNear(t, back.Array(), v, tol)
}

func TestApplyCarriesNormals(t *testing.T) {
	t.Parallel()

	v, _ := testutil.Ellipsoid(1.0, 0.6, 0.35, 8, 12)
	cloud := geometry.NewPointCloud(v, 8)
	require.True(t, cloud.HasNormals())

	t.Run("rotation", func(t *testing.T) {
		tr := MustNew(Params{
			Rotation:    Rotation{Angles: [3]float64{0, 0, 90}},
			Translation: r3.Vec{X: 5},
		})
		g, err := tr.Apply(cloud, false)
		require.NoError(t, err)
		out := g.(*geometry.PointCloud)
		testutil.AssertPointsNear(t, out.Normals, testutil.RotateZ(cloud.Normals, 90, r3.Vec{}), tol)
		assert.Equal(t, cloud.NormalNeighbours, out.NormalNeighbours)

		back, err := tr.Invert(out)
		require.NoError(t, err)
		testutil.AssertPointsNear(t, back.(*geometry.PointCloud).Normals, cloud.Normals, tol)
	})

	t.Run("anisotropic scale", func(t *testing.T) {
		tr := MustNew(Params{Scale: r3.Vec{X: 2, Y: 1, Z: 1}})
		g, err := tr.Apply(cloud, true)
		require.NoError(t, err)
		out := g.(*geometry.PointCloud)
		want := make([]r3.Vec, len(cloud.Normals))
		for i, n := range cloud.Normals {
			want[i] = r3.Unit(r3.Vec{X: n.X / 2, Y: n.Y, Z: n.Z})
		}
		testutil.AssertPointsNear(t, out.Normals, want, tol)
	})

	t.Run("deformation re-estimates", func(t *testing.T) {
		tr := MustNew(Params{Deformation: make([]r3.Vec, len(v))})
		g, err := tr.Apply(cloud, false)
		require.NoError(t, err)
		out := g.(*geometry.PointCloud)
		require.True(t, out.HasNormals())
		assert.Equal(t, cloud.NormalNeighbours, out.NormalNeighbours)
	})
}

func TestCentering(t *testing.T) {
	t.Parallel()

	pts := []r3.Vec{{X: 1, Y: 1, Z: 1}, {X: 3, Y: 1, Z: 1}, {X: 2, Y: 4, Z: 1}}

	t.Run("first centered call records centroid", func(t *testing.T) {
		t.Parallel()
		tr := Identity()
		out, err := tr.ApplyPoints(pts, true)
		require.NoError(t, err)
		testutil.AssertVecNear(t, geometry.Centroid(out), r3.Vec{}, tol)

		c, ok := tr.Centroid()
		require.True(t, ok)
		testutil.AssertVecNear(t, c, r3.Vec{X: 2, Y: 2, Z: 1}, tol)
		assert.Equal(t, KindAffineCentered, tr.Kind())
	})

	t.Run("idempotent across later calls", func(t *testing.T) {
		t.Parallel()
		tr := MustNew(Params{Scale: Uniform(2)})
		first, err := tr.ApplyPoints(pts, true)
		require.NoError(t, err)

		shifted := make([]r3.Vec, len(pts))
		for i, p := range pts {
			shifted[i] = r3.Add(p, r3.Vec{X: 10})
		}
		// The second geometry has another centroid, but the recorded one is
		// reused whether or not center is requested.
		for _, center := range []bool{true, false} {
			second, err := tr.ApplyPoints(shifted, center)
			require.NoError(t, err)
			for i := range second {
				testutil.AssertVecNear(t, second[i], r3.Add(first[i], r3.Vec{X: 20}), tol)
			}
		}
	})

	t.Run("uncentered transform stays uncentered", func(t *testing.T) {
		t.Parallel()
		tr := Identity()
		out, err := tr.ApplyPoints(pts, false)
		require.NoError(t, err)
		testutil.AssertPointsNear(t, out, pts, 0)
		_, ok := tr.Centroid()
		assert.False(t, ok)
	})

	t.Run("inverse adds centroid back", func(t *testing.T) {
		t.Parallel()
		tr := MustNew(Params{Scale: Uniform(0.5)})
		out, err := tr.ApplyPoints(pts, true)
		require.NoError(t, err)
		back, err := tr.InvertPoints(out)
		require.NoError(t, err)
		testutil.AssertPointsNear(t, back, pts, tol)
	})
}

func TestDeformable(t *testing.T) {
	t.Parallel()

	anchors := []r3.Vec{{X: 0}, {X: 1}, {X: 2}}
	field := []r3.Vec{{Y: 0.1}, {Y: 0.2}, {Y: 0.3}}

	t.Run("applies displacement then affine", func(t *testing.T) {
		t.Parallel()
		tr := MustNew(Params{
			Scale:       Uniform(2),
			Translation: r3.Vec{Z: 1},
			Deformation: field,
		})
		assert.Equal(t, KindDeformable, tr.Kind())

		out, err := tr.ApplyPoints(anchors, false)
		require.NoError(t, err)
		// s·R·(p + u + t) with R = I.
		testutil.AssertPointsNear(t, out, []r3.Vec{
			{X: 0, Y: 0.2, Z: 2},
			{X: 2, Y: 0.4, Z: 2},
			{X: 4, Y: 0.6, Z: 2},
		}, tol)
		testutil.AssertPointsNear(t, tr.Anchors(), anchors, 0)
	})

	t.Run("unseen points take nearest anchor displacement", func(t *testing.T) {
		t.Parallel()
		tr := MustNew(Params{Deformation: field, Anchors: anchors})
		out, err := tr.ApplyPoints([]r3.Vec{{X: 0.4}, {X: 1.6}, {X: 9}, {X: 1.1}, {X: 0.2}}, false)
		require.NoError(t, err)
		testutil.AssertPointsNear(t, out, []r3.Vec{
			{X: 0.4, Y: 0.1},
			{X: 1.6, Y: 0.3},
			{X: 9, Y: 0.3},
			{X: 1.1, Y: 0.2},
			{X: 0.2, Y: 0.1},
		}, tol)
	})

	t.Run("adoption requires matching cardinality", func(t *testing.T) {
		t.Parallel()
		tr := MustNew(Params{Deformation: field})
		_, err := tr.ApplyPoints(anchors[:2], false)
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})

	t.Run("inversion is rejected", func(t *testing.T) {
		t.Parallel()
		tr := MustNew(Params{Deformation: field, Anchors: anchors})
		_, err := tr.InvertPoints(anchors)
		assert.ErrorIs(t, err, ErrUnsupportedInversion)
		_, err = tr.Invert(geometry.Points(anchors))
		assert.ErrorIs(t, err, ErrUnsupportedInversion)
	})
}

func TestEmptyDeformationRejected(t *testing.T) {
	t.Parallel()

	_, err := New(Params{Deformation: []r3.Vec{}, Anchors: []r3.Vec{}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = New(Params{Deformation: []r3.Vec{}})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	t.Run("adopting an empty geometry", func(t *testing.T) {
		t.Parallel()
		tr := Identity()
		tr.Deformation = []r3.Vec{}
		_, err := tr.ApplyPoints(nil, false)
		assert.ErrorIs(t, err, ErrShapeMismatch)
		_, err = tr.ApplyPoints([]r3.Vec{}, false)
		assert.ErrorIs(t, err, ErrShapeMismatch)
		_, err = tr.ApplyPoints([]r3.Vec{{X: 1, Y: 2, Z: 3}}, false)
		assert.ErrorIs(t, err, ErrShapeMismatch)
		assert.Nil(t, tr.interp)
	})

	t.Run("decoding an empty field", func(t *testing.T) {
		t.Parallel()
		var loaded Transform
		err := json.Unmarshal([]byte(`{"deformation":[],"anchors":[]}`), &loaded)
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})
}

func TestInverseCachedAndSingular(t *testing.T) {
	t.Parallel()

	tr := MustNew(Params{Scale: Uniform(4), Translation: r3.Vec{X: 1}})
	inv, err := tr.Inverse()
	require.NoError(t, err)
	assert.True(t, Equal(MulMatrix(tr.Matrix, inv), Identity4(), tol))
	again, err := tr.Inverse()
	require.NoError(t, err)
	assert.Equal(t, inv, again)

	flat := FromMatrix([16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	_, err = flat.Inverse()
	assert.ErrorIs(t, err, ErrSingular)
}

func TestConcurrentApply(t *testing.T) {
	t.Parallel()

	pts := testutil.Lumpy()
	field := make([]r3.Vec, len(pts))
	for i := range field {
		field[i] = r3.Vec{Z: 0.01 * float64(i%7)}
	}
	tr := MustNew(Params{Deformation: field, Anchors: pts, Scale: Uniform(1.1)})
	want, err := tr.ApplyPoints(pts, false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := tr.ApplyPoints(pts, false)
			if err != nil {
				errs <- err
				return
			}
			if testutil.MaxDeviation(got, want) > 0 {
				errs <- assert.AnError
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	pts := testutil.Lumpy()

	t.Run("centered affine", func(t *testing.T) {
		t.Parallel()
		tr := MustNew(Params{Scale: Uniform(0.2), Rotation: Rotation{Angles: [3]float64{5, 10, 15}}})
		first, err := tr.ApplyPoints(pts, true)
		require.NoError(t, err)

		data, err := json.Marshal(tr)
		require.NoError(t, err)
		var loaded Transform
		require.NoError(t, json.Unmarshal(data, &loaded))
		assert.Equal(t, KindAffineCentered, loaded.Kind())

		again, err := loaded.ApplyPoints(pts, false)
		require.NoError(t, err)
		testutil.AssertPointsNear(t, again, first, 0)
	})

	t.Run("deformable keeps adopted anchors", func(t *testing.T) {
		t.Parallel()
		field := make([]r3.Vec, len(pts))
		for i := range field {
			field[i] = r3.Vec{X: 0.001 * float64(i)}
		}
		tr := MustNew(Params{Deformation: field})
		first, err := tr.ApplyPoints(pts, true)
		require.NoError(t, err)

		data, err := json.Marshal(tr)
		require.NoError(t, err)
		var loaded Transform
		require.NoError(t, json.Unmarshal(data, &loaded))
		assert.Equal(t, KindDeformable, loaded.Kind())

		jittered := testutil.Jitter(pts, 1e-4, 3)
		want, err := tr.ApplyPoints(jittered, false)
		require.NoError(t, err)
		got, err := loaded.ApplyPoints(jittered, false)
		require.NoError(t, err)
		testutil.AssertPointsNear(t, got, want, 0)
		assert.Len(t, first, len(pts))
	})

	t.Run("rejects inconsistent state", func(t *testing.T) {
		t.Parallel()
		var loaded Transform
		err := json.Unmarshal([]byte(`{"deformation":[[0,0,0]],"anchors":[]}`), &loaded)
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})
}

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "affine", KindAffine.String())
	assert.Equal(t, "affine_centered", KindAffineCentered.String())
	assert.Equal(t, "deformable", KindDeformable.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}

func TestApplyMatrixNaNFree(t *testing.T) {
	t.Parallel()

	tr := MustNew(Params{Rotation: Rotation{Angles: [3]float64{90, 90, 90}}})
	p := ApplyMatrix(tr.Matrix, r3.Vec{X: 1, Y: 2, Z: 3})
	assert.False(t, math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z))
	assert.InDelta(t, math.Sqrt(14), r3.Norm(p), tol)
}
