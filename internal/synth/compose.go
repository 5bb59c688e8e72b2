// Package synth builds RGB images from known stain intensities, for testing
// separations against ground truth and for demo material.
package synth

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/colordeconv/internal/deconv"
	"github.com/MeKo-Tech/colordeconv/internal/stain"
)

var log255 = math.Log(255.0)

// Fields holds one transmitted-intensity plane per stain, row-major. 255
// means no stain, 1 is the darkest value a separation can reproduce.
type Fields [3][]float64

// Uniform returns fields where every pixel has the same three intensities.
func Uniform(w, h int, i1, i2, i3 float64) Fields {
	n := w * h
	var f Fields
	for k, v := range [3]float64{i1, i2, i3} {
		f[k] = make([]float64, n)
		for i := range f[k] {
			f[k][i] = v
		}
	}
	return f
}

// Compose mixes the stains of basis at the given intensities into an RGB
// image. It is the forward model of deconv.Apply: deconvolving the result
// with the inverse of basis recovers fields up to quantisation.
func Compose(basis stain.Basis, fields Fields, w, h int, depth deconv.Depth) (*deconv.Image, error) {
	n := w * h
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d must be positive", deconv.ErrInvalidImageShape, w, h)
	}
	for k, f := range fields {
		if len(f) != n {
			return nil, fmt.Errorf("%w: field %d has %d samples, want %d", deconv.ErrInvalidImageShape, k, len(f), n)
		}
	}

	var rgb [3][]float64
	for c := range rgb {
		rgb[c] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		var s [3]float64
		for k := 0; k < 3; k++ {
			s[k] = stainSum(fields[k][i])
		}
		for c := 0; c < 3; c++ {
			od := s[0]*basis[0][c] + s[1]*basis[1][c] + s[2]*basis[2][c]
			rgb[c][i] = clamp(255*math.Exp(-od*log255/255)-1, 0, 255)
		}
	}

	switch depth {
	case deconv.Depth8:
		var planes [3][]uint8
		for c := range planes {
			planes[c] = make([]uint8, n)
			for i, v := range rgb[c] {
				planes[c][i] = uint8(math.Floor(v + 0.5))
			}
		}
		return deconv.NewImage8(w, h, planes[0], planes[1], planes[2])
	case deconv.Depth16:
		var planes [3][]uint16
		for c := range planes {
			planes[c] = make([]uint16, n)
			for i, v := range rgb[c] {
				planes[c][i] = uint16(math.Floor(v/255*65535 + 0.5))
			}
		}
		return deconv.NewImage16(w, h, planes[0], planes[1], planes[2])
	default:
		return nil, fmt.Errorf("%w: unsupported depth %s", deconv.ErrInvalidImageShape, depth)
	}
}

// stainSum inverts the reconstruction exp(-(s-255)*ln255/255).
func stainSum(intensity float64) float64 {
	intensity = clamp(intensity, 1, 255)
	return 255 - 255*math.Log(intensity)/log255
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
