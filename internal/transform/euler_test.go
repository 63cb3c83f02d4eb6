package transform

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestEulerMatrixSingleAxis(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		order  string
		angles [3]float64
		in     r3.Vec
		want   r3.Vec
	}{
		{"x 90", "xyz", [3]float64{90, 0, 0}, r3.Vec{Y: 1}, r3.Vec{Z: 1}},
		{"y 90", "xyz", [3]float64{0, 90, 0}, r3.Vec{Z: 1}, r3.Vec{X: 1}},
		{"z 90", "xyz", [3]float64{0, 0, 90}, r3.Vec{X: 1}, r3.Vec{Y: 1}},
		{"z first in zyx", "zyx", [3]float64{90, 0, 0}, r3.Vec{X: 1}, r3.Vec{Y: 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r, err := EulerMatrix(tc.order, tc.angles)
			require.NoError(t, err)
			got := mulVec(r, tc.in)
			if diff := cmp.Diff(tc.want, got, approx); diff != "" {
				t.Errorf("rotated vector mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEulerExtrinsicVersusIntrinsic(t *testing.T) {
	t.Parallel()

	angles := [3]float64{30, 45, 60}
	rx, _ := EulerMatrix("xyz", [3]float64{30, 0, 0})
	ry, _ := EulerMatrix("xyz", [3]float64{0, 45, 0})
	rz, _ := EulerMatrix("xyz", [3]float64{0, 0, 60})

	ext, err := EulerMatrix("xyz", angles)
	require.NoError(t, err)
	if diff := cmp.Diff(rz.Mul(ry).Mul(rx), ext, approx); diff != "" {
		t.Errorf("extrinsic xyz mismatch (-want +got):\n%s", diff)
	}

	in, err := EulerMatrix("XYZ", angles)
	require.NoError(t, err)
	if diff := cmp.Diff(rx.Mul(ry).Mul(rz), in, approx); diff != "" {
		t.Errorf("intrinsic XYZ mismatch (-want +got):\n%s", diff)
	}

	// Intrinsic XYZ equals extrinsic zyx with reversed angles.
	rev, err := EulerMatrix("zyx", [3]float64{60, 45, 30})
	require.NoError(t, err)
	if diff := cmp.Diff(in, rev, approx); diff != "" {
		t.Errorf("XYZ vs reversed zyx mismatch (-want +got):\n%s", diff)
	}
}

func TestEulerMatrixOrthonormal(t *testing.T) {
	t.Parallel()

	r, err := EulerMatrix("ZXZ", [3]float64{17, -81, 133})
	require.NoError(t, err)
	if diff := cmp.Diff(Identity3(), r.Mul(r.Transpose()), approx); diff != "" {
		t.Errorf("R·Rᵀ != I (-want +got):\n%s", diff)
	}
}

func TestEulerOrderValidation(t *testing.T) {
	t.Parallel()

	for _, order := range []string{"xy", "xyzx", "xYz", "xxy", "abc"} {
		_, err := EulerMatrix(order, [3]float64{})
		assert.ErrorIs(t, err, ErrInvalidOrder, order)
	}
	for _, order := range []string{"", "xyz", "ZYX", "zxz"} {
		_, err := EulerMatrix(order, [3]float64{})
		assert.NoError(t, err, order)
	}
}

func TestEulerXYZRoundTrip(t *testing.T) {
	t.Parallel()

	for _, angles := range [][3]float64{
		{0, 0, 0},
		{10, 20, 30},
		{-170, 45, 95},
		{33, -60, -120},
	} {
		r, err := EulerMatrix("xyz", angles)
		require.NoError(t, err)
		if diff := cmp.Diff(angles, EulerXYZ(r), approx); diff != "" {
			t.Errorf("angles %v mismatch (-want +got):\n%s", angles, diff)
		}
	}
}

func TestEulerXYZGimbalLock(t *testing.T) {
	t.Parallel()

	r, err := EulerMatrix("xyz", [3]float64{25, 90, 0})
	require.NoError(t, err)
	got := EulerXYZ(r)
	back, err := EulerMatrix("xyz", got)
	require.NoError(t, err)
	if diff := cmp.Diff(r, back, cmpopts.EquateApprox(0, 1e-7)); diff != "" {
		t.Errorf("gimbal lock rebuild mismatch (-want +got):\n%s", diff)
	}
	assert.Zero(t, got[2])
}

func TestDecompose(t *testing.T) {
	t.Parallel()

	tr := MustNew(Params{
		Scale:       r3.Vec{X: 2, Y: 0.5, Z: 3},
		Rotation:    Rotation{Angles: [3]float64{15, -25, 140}},
		Translation: r3.Vec{X: 7, Y: 8, Z: 9},
	})
	d := Decompose(tr.Matrix)
	want := Components{
		Scale:       r3.Vec{X: 2, Y: 0.5, Z: 3},
		Angles:      [3]float64{15, -25, 140},
		Translation: r3.Vec{X: 7, Y: 8, Z: 9},
	}
	if diff := cmp.Diff(want, d, approx); diff != "" {
		t.Errorf("Decompose mismatch (-want +got):\n%s", diff)
	}

	rebuilt := FromMatrix(tr.Matrix)
	if diff := cmp.Diff(tr.Rotation, rebuilt.Rotation, approx); diff != "" {
		t.Errorf("FromMatrix rotation mismatch (-want +got):\n%s", diff)
	}
}

func mulVec(m Mat3, v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		Y: m[3]*v.X + m[4]*v.Y + m[5]*v.Z,
		Z: m[6]*v.X + m[7]*v.Y + m[8]*v.Z,
	}
}
