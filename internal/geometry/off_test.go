package geometry

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/organ.projection/internal/testutil"
)

func TestReadOFF(t *testing.T) {
	t.Parallel()

	t.Run("quad is triangulated", func(t *testing.T) {
		t.Parallel()
		src := `OFF
# unit square
4 1 0
0 0 0
1 0 0
1 1 0
0 1 0
4 0 1 2 3
`
		s, err := ReadOFF(strings.NewReader(src))
		require.NoError(t, err)
		assert.Len(t, s.Vertices, 4)
		assert.Equal(t, [][3]int{{0, 1, 2}, {0, 2, 3}}, s.Faces)
		assert.Equal(t, r3.Vec{X: 1, Y: 1}, s.Vertices[2])
	})

	t.Run("counts on header line", func(t *testing.T) {
		t.Parallel()
		s, err := ReadOFF(strings.NewReader("OFF 3 1 0\n0 0 0\n1 0 0\n0 1 0\n3 0 1 2\n"))
		require.NoError(t, err)
		assert.Len(t, s.Faces, 1)
	})

	t.Run("bad header", func(t *testing.T) {
		t.Parallel()
		_, err := ReadOFF(strings.NewReader("PLY\n"))
		assert.Error(t, err)
	})

	t.Run("truncated", func(t *testing.T) {
		t.Parallel()
		_, err := ReadOFF(strings.NewReader("OFF\n3 1 0\n0 0 0\n"))
		assert.Error(t, err)
	})

	t.Run("no faces", func(t *testing.T) {
		t.Parallel()
		_, err := ReadOFF(strings.NewReader("OFF\n1 0 0\n0 0 0\n"))
		assert.ErrorIs(t, err, ErrMissingTopology)
	})
}

func TestOFFRoundTrip(t *testing.T) {
	t.Parallel()

	v, f := testutil.Ellipsoid(1.3, 0.7, 0.4, 6, 9)
	s, err := NewSurface(v, f)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteOFF(&buf, s))
	back, err := ReadOFF(&buf)
	require.NoError(t, err)
	assert.Equal(t, s.Vertices, back.Vertices)
	assert.Equal(t, s.Faces, back.Faces)
}

func TestLoadSurface(t *testing.T) {
	t.Parallel()

	v, f := testutil.UnitCube()
	s, err := NewSurface(v, f)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "cube.off")
	require.NoError(t, SaveSurface(path, s))

	got, err := LoadSurface(path)
	require.NoError(t, err)
	assert.Equal(t, s.Vertices, got.Vertices)

	_, err = LoadSurface(filepath.Join(dir, "cube.glb"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = LoadSurface(filepath.Join(dir, "missing.off"))
	assert.Error(t, err)
}
