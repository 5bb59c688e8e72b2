// Package mask derives binary stain-positive masks from separated stain images.
package mask

import (
	"image"

	"github.com/MeKo-Tech/colordeconv/internal/deconv"
	"github.com/disintegration/gift"
)

// Stain returns the stain-positive mask of stain k, with threshold taken as
// a fraction of the separation's [Min, Max] range.
func Stain(sep *deconv.Separation, k int, threshold float64, sigma float32) *image.Gray {
	return Positive(sep.Normalized(k), threshold, sigma)
}

// Positive marks the pixels where a stain is present. The stain image is
// converted to 8-bit and smoothed with a Gaussian of the given sigma (0
// disables smoothing); pixels darker than threshold (a fraction of full
// scale) become 255, all others 0.
func Positive(stain image.Image, threshold float64, sigma float32) *image.Gray {
	return Below(Blur(stain, sigma), threshold*255)
}

// Blur converts img to greyscale and applies a Gaussian blur. A sigma of 0
// only converts.
func Blur(img image.Image, sigma float32) *image.Gray {
	var g *gift.GIFT
	if sigma > 0 {
		g = gift.New(gift.GaussianBlur(sigma))
	} else {
		g = gift.New()
	}

	dst := image.NewGray(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}

// Below sets pixels with a value under level to 255 and all others to 0.
func Below(m *image.Gray, level float64) *image.Gray {
	bounds := m.Bounds()
	result := image.NewGray(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		src := m.Pix[m.PixOffset(bounds.Min.X, y):]
		dst := result.Pix[result.PixOffset(bounds.Min.X, y):]
		for x := 0; x < bounds.Dx(); x++ {
			if float64(src[x]) < level {
				dst[x] = 255
			}
		}
	}

	return result
}

// Coverage returns the fraction of set (non-zero) pixels in m.
func Coverage(m *image.Gray) float64 {
	bounds := m.Bounds()
	n := bounds.Dx() * bounds.Dy()
	if n == 0 {
		return 0
	}

	set := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := m.Pix[m.PixOffset(bounds.Min.X, y):]
		for x := 0; x < bounds.Dx(); x++ {
			if row[x] != 0 {
				set++
			}
		}
	}
	return float64(set) / float64(n)
}
