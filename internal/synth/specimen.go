package synth

import (
	"fmt"
	"image"
	"math"
	"math/rand"

	"github.com/MeKo-Tech/colordeconv/internal/deconv"
	"github.com/MeKo-Tech/colordeconv/internal/stain"
	"github.com/aquilax/go-perlin"
	"github.com/disintegration/gift"
	"golang.org/x/image/vector"
)

// SpecimenConfig describes a synthetic tissue section.
type SpecimenConfig struct {
	Width  int
	Height int
	Seed   int64
	// Scale is the Perlin noise wavelength in pixels (default 32).
	Scale float64
	// Nuclei is the number of nuclei drawn in stain 1 (default one per 30x30 px).
	Nuclei int
	// NucleusRadius is the mean nucleus radius in pixels (default 6).
	NucleusRadius float64
	// Background is the peak stain-3 density in intensity levels; 0 leaves
	// stain 3 absent.
	Background float64
	Depth      deconv.Depth
}

// Specimen is a composed image together with the intensities it was built from.
type Specimen struct {
	Image  *deconv.Image
	Fields Fields
}

// NewSpecimen draws nuclei (stain 1) over a noisy counterstain (stain 2) and
// mixes them with basis.
func NewSpecimen(basis stain.Basis, cfg SpecimenConfig) (*Specimen, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d must be positive", deconv.ErrInvalidImageShape, cfg.Width, cfg.Height)
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 32
	}
	if cfg.NucleusRadius <= 0 {
		cfg.NucleusRadius = 6
	}
	if cfg.Nuclei <= 0 {
		cfg.Nuclei = cfg.Width * cfg.Height / 900
		if cfg.Nuclei == 0 {
			cfg.Nuclei = 1
		}
	}
	if cfg.Depth == 0 {
		cfg.Depth = deconv.Depth8
	}

	w, h := cfg.Width, cfg.Height
	nuclei := drawNuclei(w, h, cfg.Nuclei, cfg.NucleusRadius, cfg.Seed)
	texture := noiseField(w, h, cfg.Scale/4, cfg.Seed+1)
	tissue := noiseField(w, h, cfg.Scale, cfg.Seed+2)
	background := noiseField(w, h, cfg.Scale*2, cfg.Seed+3)

	n := w * h
	var f Fields
	for k := range f {
		f[k] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		nuc := float64(nuclei.Pix[i]) / 255
		f[0][i] = 255 - 190*nuc*(0.8+0.2*texture[i])
		f[1][i] = 255 - (50+130*tissue[i])*(1-0.6*nuc)
		f[2][i] = 255 - cfg.Background*background[i]
	}

	img, err := Compose(basis, f, w, h, cfg.Depth)
	if err != nil {
		return nil, err
	}
	return &Specimen{Image: img, Fields: f}, nil
}

// drawNuclei rasterizes randomly placed ellipses and softens their edges.
func drawNuclei(w, h, count int, radius float64, seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	ras := vector.NewRasterizer(w, h)

	const segments = 24
	for i := 0; i < count; i++ {
		cx := rng.Float64() * float64(w)
		cy := rng.Float64() * float64(h)
		rx := radius * (0.7 + 0.6*rng.Float64())
		ry := rx * (0.6 + 0.4*rng.Float64())
		rot := rng.Float64() * math.Pi

		for s := 0; s <= segments; s++ {
			a := 2 * math.Pi * float64(s) / segments
			ex, ey := rx*math.Cos(a), ry*math.Sin(a)
			x := float32(cx + ex*math.Cos(rot) - ey*math.Sin(rot))
			y := float32(cy + ex*math.Sin(rot) + ey*math.Cos(rot))
			if s == 0 {
				ras.MoveTo(x, y)
			} else {
				ras.LineTo(x, y)
			}
		}
		ras.ClosePath()
	}

	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	ras.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})

	gray := &image.Gray{Pix: mask.Pix, Stride: mask.Stride, Rect: mask.Rect}
	g := gift.New(gift.GaussianBlur(float32(radius) / 6))
	dst := image.NewGray(g.Bounds(gray.Bounds()))
	g.Draw(dst, gray)
	return dst
}

// noiseField samples Perlin noise normalised to [0, 1].
func noiseField(w, h int, scale float64, seed int64) []float64 {
	p := perlin.NewPerlin(2.0, 2.0, 3, seed)
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := (p.Noise2D(float64(x)/scale, float64(y)/scale) + 1) / 2
			out[y*w+x] = clamp(v, 0, 1)
		}
	}
	return out
}
