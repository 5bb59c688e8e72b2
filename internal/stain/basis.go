package stain

import (
	"fmt"
	"math"
)

// Basis holds three unit-length stain vectors after missing vectors have
// been inferred. Row i is stain i; columns are the red, green and blue
// absorbance components.
type Basis [3]Vector

// Matrix is a deconvolution matrix stored row-major: row j is the output
// stain, column c the colour channel.
type Matrix [9]float64

// At returns the weight of colour channel c for stain j.
func (m Matrix) At(j, c int) float64 {
	return m[j*3+c]
}

// Row returns the three channel weights of stain j.
func (m Matrix) Row(j int) [3]float64 {
	return [3]float64{m[j*3], m[j*3+1], m[j*3+2]}
}

// Apply multiplies an optical-density triple by the matrix rows. The result
// is proportional to the amount of each stain.
func (m Matrix) Apply(od [3]float64) [3]float64 {
	var out [3]float64
	for j := 0; j < 3; j++ {
		out[j] = od[0]*m[j*3] + od[1]*m[j*3+1] + od[2]*m[j*3+2]
	}
	return out
}

// Build normalizes set, infers any missing vectors and inverts the result.
func Build(set VectorSet) (Matrix, error) {
	basis, err := Complete(set)
	if err != nil {
		return Matrix{}, err
	}
	return basis.Invert()
}

// Complete normalizes every vector and fills in unspecified ones.
//
// A zero vector 2 becomes the rotation (z, x, y) of vector 1. A zero vector 3
// gets, per colour axis, sqrt(1 - v1² - v2²), clamped to 0 when the squares
// exceed 1. Vector 3 is then renormalized. A set failing Validate is
// rejected with ErrInvalidStainSpec.
func Complete(set VectorSet) (Basis, error) {
	if err := set.Validate(); err != nil {
		return Basis{}, err
	}

	var b Basis
	for i := range set {
		b[i] = set[i].Normalize()
	}

	// non-zero but too small to normalize
	if b[0].IsZero() {
		return Basis{}, fmt.Errorf("%w: vector 1 has no usable length", ErrDegenerateBasis)
	}

	if b[1].IsZero() {
		b[1] = Vector{b[0][2], b[0][0], b[0][1]}
	}

	if b[2].IsZero() {
		for c := 0; c < 3; c++ {
			sq := b[0][c]*b[0][c] + b[1][c]*b[1][c]
			if sq > 1 {
				b[2][c] = 0
			} else {
				b[2][c] = math.Sqrt(1 - sq)
			}
		}
	}

	l := b[2].Len()
	if l == 0 {
		return Basis{}, fmt.Errorf("%w: complementary vector has zero length", ErrDegenerateBasis)
	}
	b[2] = Vector{b[2][0] / l, b[2][1] / l, b[2][2] / l}

	return b, nil
}

// Invert returns the deconvolution matrix Q with Q·Bᵀ = I.
//
// The elimination pivots on the red component of stain 1, then on stain 2
// and stain 3. When one of those pivots is exactly zero (the RGB preset has a
// zero red component in stain 1) the adjugate is used instead. A singular
// basis yields ErrDegenerateBasis.
func (b Basis) Invert() (Matrix, error) {
	if q, ok := b.eliminate(); ok {
		return q, nil
	}

	q, det := b.adjugate()
	if det == 0 || math.IsNaN(det) {
		return Matrix{}, fmt.Errorf("%w: stain vectors are linearly dependent", ErrDegenerateBasis)
	}
	if !q.finite() {
		return Matrix{}, fmt.Errorf("%w: inverse is not finite", ErrDegenerateBasis)
	}
	return q, nil
}

// eliminate is the closed-form inverse along the fixed pivot order. It
// reports false when a pivot is zero or the result is not finite.
func (b Basis) eliminate() (Matrix, bool) {
	cx := [3]float64{b[0][0], b[1][0], b[2][0]}
	cy := [3]float64{b[0][1], b[1][1], b[2][1]}
	cz := [3]float64{b[0][2], b[1][2], b[2][2]}

	if cx[0] == 0 {
		return Matrix{}, false
	}
	a := cy[1] - cx[1]*cy[0]/cx[0]
	if a == 0 {
		return Matrix{}, false
	}
	v := cz[1] - cx[1]*cz[0]/cx[0]
	c := cz[2] - cy[2]*v/a + cx[2]*(v/a*cy[0]/cx[0]-cz[0]/cx[0])
	if c == 0 {
		return Matrix{}, false
	}

	var q Matrix
	q[2] = (-cx[2]/cx[0] - cx[2]/a*cx[1]/cx[0]*cy[0]/cx[0] + cy[2]/a*cx[1]/cx[0]) / c
	q[1] = -q[2]*v/a - cx[1]/(cx[0]*a)
	q[0] = 1.0/cx[0] - q[1]*cy[0]/cx[0] - q[2]*cz[0]/cx[0]
	q[5] = (-cy[2]/a + cx[2]/a*cy[0]/cx[0]) / c
	q[4] = -q[5]*v/a + 1.0/a
	q[3] = -q[4]*cy[0]/cx[0] - q[5]*cz[0]/cx[0]
	q[8] = 1.0 / c
	q[7] = -q[8] * v / a
	q[6] = -q[7]*cy[0]/cx[0] - q[8]*cz[0]/cx[0]

	return q, q.finite()
}

// adjugate inverts Bᵀ through its cofactors and returns the determinant.
func (b Basis) adjugate() (Matrix, float64) {
	// t = Bᵀ, row-major
	t := [9]float64{
		b[0][0], b[1][0], b[2][0],
		b[0][1], b[1][1], b[2][1],
		b[0][2], b[1][2], b[2][2],
	}

	c00 := t[4]*t[8] - t[5]*t[7]
	c01 := -(t[3]*t[8] - t[5]*t[6])
	c02 := t[3]*t[7] - t[4]*t[6]
	c10 := -(t[1]*t[8] - t[2]*t[7])
	c11 := t[0]*t[8] - t[2]*t[6]
	c12 := -(t[0]*t[7] - t[1]*t[6])
	c20 := t[1]*t[5] - t[2]*t[4]
	c21 := -(t[0]*t[5] - t[2]*t[3])
	c22 := t[0]*t[4] - t[1]*t[3]

	det := t[0]*c00 + t[1]*c01 + t[2]*c02
	if det == 0 {
		return Matrix{}, 0
	}

	return Matrix{
		c00 / det, c10 / det, c20 / det,
		c01 / det, c11 / det, c21 / det,
		c02 / det, c12 / det, c22 / det,
	}, det
}

func (m Matrix) finite() bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
