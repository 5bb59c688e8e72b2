// Package stain builds colour-deconvolution matrices from stain absorbance vectors.
package stain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrInvalidStainSpec reports an unusable stain specification: an unknown
	// preset, missing MODx_0..MODz_2 fields or a malformed vector string.
	ErrInvalidStainSpec = errors.New("invalid stain spec")

	// ErrDegenerateBasis reports a vector set that cannot be turned into an
	// invertible deconvolution matrix.
	ErrDegenerateBasis = errors.New("degenerate stain basis")
)

// Vector is the relative absorbance of one stain in the red (X), green (Y)
// and blue (Z) channels. The zero vector means "unspecified".
type Vector [3]float64

// VectorSet is an ordered set of three stain vectors. Vector 3 is the
// complementary stain when only two are physically meaningful.
type VectorSet [3]Vector

// IsZero reports whether every component is exactly zero.
func (v Vector) IsZero() bool {
	return v[0] == 0 && v[1] == 0 && v[2] == 0
}

// Len returns the Euclidean length.
func (v Vector) Len() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Normalize returns v scaled to unit length. A zero-length vector stays zero.
func (v Vector) Normalize() Vector {
	l := v.Len()
	if l == 0 {
		return Vector{}
	}
	return Vector{v[0] / l, v[1] / l, v[2] / l}
}

func (v Vector) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v[0], v[1], v[2])
}

// Validate checks the set invariant: vector 1 must be specified and every
// component finite.
func (s VectorSet) Validate() error {
	for i, v := range s {
		for _, c := range v {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return fmt.Errorf("%w: vector %d has a non-finite component", ErrInvalidStainSpec, i+1)
			}
		}
	}
	if s[0].IsZero() {
		return fmt.Errorf("%w: vector 1 must be non-zero", ErrInvalidStainSpec)
	}
	return nil
}

// FieldNames lists the explicit vector field names in set order:
// MODx_0, MODy_0, MODz_0, MODx_1, ... MODz_2.
func FieldNames() []string {
	names := make([]string, 0, 9)
	for i := 0; i < 3; i++ {
		for _, axis := range []string{"x", "y", "z"} {
			names = append(names, fmt.Sprintf("MOD%s_%d", axis, i))
		}
	}
	return names
}

// FromFields populates a VectorSet from the nine named scalars
// MODx_0..MODz_2. Every field is required and the set must pass Validate.
func FromFields(fields map[string]float64) (VectorSet, error) {
	var set VectorSet
	var missing []string
	for i, name := range FieldNames() {
		v, ok := fields[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		set[i/3][i%3] = v
	}
	if len(missing) > 0 {
		return VectorSet{}, fmt.Errorf("%w: missing fields %s", ErrInvalidStainSpec, strings.Join(missing, ", "))
	}
	if err := set.Validate(); err != nil {
		return VectorSet{}, err
	}
	return set, nil
}

// Fields is the inverse of FromFields.
func (s VectorSet) Fields() map[string]float64 {
	out := make(map[string]float64, 9)
	for i, name := range FieldNames() {
		out[name] = s[i/3][i%3]
	}
	return out
}

// ParseVectors parses "x,y,z;x,y,z;x,y,z". Fewer than three vectors may be
// given; the remaining ones are zero and get inferred by Complete.
func ParseVectors(s string) (VectorSet, error) {
	var set VectorSet
	s = strings.TrimSpace(s)
	if s == "" {
		return set, fmt.Errorf("%w: empty vector string", ErrInvalidStainSpec)
	}

	parts := strings.Split(s, ";")
	if len(parts) > 3 {
		return set, fmt.Errorf("%w: expected at most 3 vectors, got %d", ErrInvalidStainSpec, len(parts))
	}

	for i, part := range parts {
		comps := strings.Split(part, ",")
		if len(comps) != 3 {
			return set, fmt.Errorf("%w: vector %d: expected 3 components, got %d", ErrInvalidStainSpec, i+1, len(comps))
		}
		for j, c := range comps {
			val, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
			if err != nil {
				return set, fmt.Errorf("%w: vector %d component %d: %v", ErrInvalidStainSpec, i+1, j+1, err)
			}
			set[i][j] = val
		}
	}

	return set, set.Validate()
}
