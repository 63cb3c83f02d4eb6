package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func grid(shift r3.Vec) []r3.Vec {
	var out []r3.Vec
	for x := 0; x < 5; x++ {
		for y := 0; y < 5; y++ {
			out = append(out, r3.Add(r3.Vec{X: float64(x), Y: float64(y)}, shift))
		}
	}
	return out
}

func TestIdenticalSets(t *testing.T) {
	t.Parallel()

	a := grid(r3.Vec{})
	for _, name := range []string{Chamfer, Hausdorff} {
		d, err := Compute(name, a, a)
		require.NoError(t, err, name)
		assert.Zero(t, d, name)
	}
	d, err := Compute(Sinkhorn, a, a)
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-6)
}

func TestShiftedSets(t *testing.T) {
	t.Parallel()

	a := grid(r3.Vec{})
	b := grid(r3.Vec{Z: 0.1})

	c, err := ChamferDistance(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, c, 1e-12)

	h, err := HausdorffDistance(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, h, 1e-12)

	s, err := SinkhornDistance(a, b, SinkhornOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, s, 1e-3)
}

func TestHausdorffIsWorstCase(t *testing.T) {
	t.Parallel()

	a := grid(r3.Vec{})
	b := append(grid(r3.Vec{}), r3.Vec{X: 2, Y: 2, Z: 3})

	h, err := HausdorffDistance(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 3, h, 1e-12)

	// One outlier among 26 points moves the mean only a little.
	c, err := ChamferDistance(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 3.0/26, c, 1e-12)

	p50, err := Percentile(b, a, 50)
	require.NoError(t, err)
	assert.Zero(t, p50)
}

func TestSinkhornSubsamples(t *testing.T) {
	t.Parallel()

	a := grid(r3.Vec{})
	s, err := SinkhornDistance(a, a, SinkhornOptions{MaxPoints: 10})
	require.NoError(t, err)
	assert.InDelta(t, 0, s, 1e-6)
	assert.Len(t, subsample(a, 10), 10)
}

func TestComputeErrors(t *testing.T) {
	t.Parallel()

	_, err := Compute("wasserstein", grid(r3.Vec{}), grid(r3.Vec{}))
	assert.ErrorIs(t, err, ErrUnknownMetric)

	for _, name := range Names() {
		_, err := Compute(name, nil, grid(r3.Vec{}))
		assert.ErrorIs(t, err, ErrEmpty, name)
	}
}
