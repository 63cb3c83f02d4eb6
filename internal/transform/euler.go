package transform

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// DefaultOrder is the axis sequence used when a rotation gives none.
const DefaultOrder = "xyz"

// ErrInvalidOrder is returned for an axis sequence that is not three of
// x, y, z in one case with no axis repeated back to back.
var ErrInvalidOrder = errors.New("transform: invalid Euler axis order")

// Mat3 is a row-major 3x3 matrix.
type Mat3 [9]float64

// Identity3 returns the 3x3 identity.
func Identity3() Mat3 {
	return Mat3{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Mul returns m·o.
func (m Mat3) Mul(o Mat3) Mat3 {
	var out Mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = m[r*3]*o[c] + m[r*3+1]*o[3+c] + m[r*3+2]*o[6+c]
		}
	}
	return out
}

// Transpose returns mᵀ.
func (m Mat3) Transpose() Mat3 {
	return Mat3{m[0], m[3], m[6], m[1], m[4], m[7], m[2], m[5], m[8]}
}

func axisRotation(axis byte, deg float64) Mat3 {
	s, c := math.Sincos(deg * math.Pi / 180)
	switch axis {
	case 'x':
		return Mat3{1, 0, 0, 0, c, -s, 0, s, c}
	case 'y':
		return Mat3{c, 0, s, 0, 1, 0, -s, 0, c}
	default:
		return Mat3{c, -s, 0, s, c, 0, 0, 0, 1}
	}
}

// EulerMatrix builds a rotation from three angles in degrees applied in
// order. A lower-case order is extrinsic (fixed axes, "xyz" gives
// Rz·Ry·Rx); an upper-case order is intrinsic (body axes, "XYZ" gives
// Rx·Ry·Rz). An empty order means DefaultOrder.
func EulerMatrix(order string, angles [3]float64) (Mat3, error) {
	if order == "" {
		order = DefaultOrder
	}
	if err := validateOrder(order); err != nil {
		return Mat3{}, err
	}
	intrinsic := order == strings.ToUpper(order)
	axes := strings.ToLower(order)

	r := Identity3()
	for i := 0; i < 3; i++ {
		step := axisRotation(axes[i], angles[i])
		if intrinsic {
			r = r.Mul(step)
		} else {
			r = step.Mul(r)
		}
	}
	return r, nil
}

func validateOrder(order string) error {
	if len(order) != 3 {
		return fmt.Errorf("%w: %q", ErrInvalidOrder, order)
	}
	if order != strings.ToLower(order) && order != strings.ToUpper(order) {
		return fmt.Errorf("%w: mixed case in %q", ErrInvalidOrder, order)
	}
	axes := strings.ToLower(order)
	for i := 0; i < 3; i++ {
		if !strings.ContainsRune("xyz", rune(axes[i])) {
			return fmt.Errorf("%w: unknown axis %q", ErrInvalidOrder, axes[i])
		}
		if i > 0 && axes[i] == axes[i-1] {
			return fmt.Errorf("%w: repeated axis in %q", ErrInvalidOrder, order)
		}
	}
	return nil
}

// EulerXYZ returns the extrinsic xyz angles in degrees of a pure rotation,
// the inverse of EulerMatrix("xyz", ...). At gimbal lock the z angle is
// reported as zero.
func EulerXYZ(r Mat3) [3]float64 {
	sy := -r[6]
	sy = math.Max(-1, math.Min(1, sy))
	beta := math.Asin(sy)

	var alpha, gamma float64
	if math.Abs(math.Cos(beta)) > 1e-9 {
		alpha = math.Atan2(r[7], r[8])
		gamma = math.Atan2(r[3], r[0])
	} else {
		alpha = math.Atan2(-r[5], r[4])
	}
	const deg = 180 / math.Pi
	return [3]float64{alpha * deg, beta * deg, gamma * deg}
}
