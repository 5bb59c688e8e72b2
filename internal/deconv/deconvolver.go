package deconv

import (
	"image"
	"runtime"
	"sync"

	"github.com/MeKo-Tech/colordeconv/internal/stain"
)

// Config configures a Deconvolver.
type Config struct {
	// Workers is the number of row bands processed in parallel
	// (default: number of CPUs).
	Workers int
}

// Deconvolver applies deconvolution matrices to images. It holds no
// per-image state and is safe for concurrent use.
type Deconvolver struct {
	workers int
}

// New creates a Deconvolver.
func New(cfg Config) *Deconvolver {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Deconvolver{workers: workers}
}

// Apply separates img with the default configuration.
func Apply(m stain.Matrix, img *Image) (*Separation, error) {
	return New(Config{}).Apply(m, img)
}

// Apply converts every pixel of img to optical density, multiplies it by the
// rows of m and reconstructs one intensity per stain. The output has the
// size and bit depth of img.
func (d *Deconvolver) Apply(m stain.Matrix, img *Image) (*Separation, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}

	sep := newSeparation(img.Width, img.Height, img.Depth)

	if img.Depth == Depth16 {
		sep.Min, sep.Max = d.redRange(img)
		d.forEachBand(img.Height, func(y0, y1 int) {
			apply16(m, img, sep, y0, y1)
		})
		return sep, nil
	}

	sep.Min, sep.Max = 0, 255
	d.forEachBand(img.Height, func(y0, y1 int) {
		apply8(m, img, sep, y0, y1)
	})
	return sep, nil
}

// forEachBand splits [0, height) into contiguous row bands and runs fn on
// each band concurrently.
func (d *Deconvolver) forEachBand(height int, fn func(y0, y1 int)) {
	bands := d.workers
	if bands > height {
		bands = height
	}
	if bands <= 1 {
		fn(0, height)
		return
	}

	rows := (height + bands - 1) / bands
	var wg sync.WaitGroup
	for y0 := 0; y0 < height; y0 += rows {
		y1 := y0 + rows
		if y1 > height {
			y1 = height
		}
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			fn(y0, y1)
		}(y0, y1)
	}
	wg.Wait()
}

func apply8(m stain.Matrix, img *Image, sep *Separation, y0, y1 int) {
	r, g, b := img.Planes8[0], img.Planes8[1], img.Planes8[2]
	var out [3][]uint8
	for j := range out {
		out[j] = sep.Stains[j].(*image.Gray).Pix
	}

	w := img.Width
	for i := y0 * w; i < y1*w; i++ {
		od := [3]float64{odTable[r[i]], odTable[g[i]], odTable[b[i]]}
		for j := 0; j < 3; j++ {
			s := od[0]*m[j*3] + od[1]*m[j*3+1] + od[2]*m[j*3+2]
			out[j][i] = uint8(roundHalfUp(transmittance(s)))
		}
	}
}

func apply16(m stain.Matrix, img *Image, sep *Separation, y0, y1 int) {
	r, g, b := img.Planes16[0], img.Planes16[1], img.Planes16[2]
	var out [3][]uint8
	for j := range out {
		out[j] = sep.Stains[j].(*image.Gray16).Pix
	}

	min, max := sep.Min, sep.Max
	w := img.Width
	for i := y0 * w; i < y1*w; i++ {
		od := [3]float64{
			opticalDensity(to8BitRange(r[i], min, max)),
			opticalDensity(to8BitRange(g[i], min, max)),
			opticalDensity(to8BitRange(b[i], min, max)),
		}
		for j := 0; j < 3; j++ {
			s := od[0]*m[j*3] + od[1]*m[j*3+1] + od[2]*m[j*3+2]
			v := uint16(roundHalfUp(to16BitRange(transmittance(s), min, max)))
			// image.Gray16 stores samples big-endian
			out[j][i*2] = uint8(v >> 8)
			out[j][i*2+1] = uint8(v)
		}
	}
}

// RedRange returns the minimum and maximum sample of the red plane of a
// 16-bit image. It returns (0, 255) for 8-bit images.
func RedRange(img *Image) (uint16, uint16) {
	return New(Config{}).redRange(img)
}

func (d *Deconvolver) redRange(img *Image) (uint16, uint16) {
	if img.Depth != Depth16 {
		return 0, 255
	}

	red := img.Planes16[0]
	type bounds struct{ min, max uint16 }
	var (
		mu    sync.Mutex
		found []bounds
	)
	d.forEachBand(img.Height, func(y0, y1 int) {
		part := red[y0*img.Width : y1*img.Width]
		lo, hi := part[0], part[0]
		for _, v := range part[1:] {
			if v < lo {
				lo = v
			} else if v > hi {
				hi = v
			}
		}
		mu.Lock()
		found = append(found, bounds{lo, hi})
		mu.Unlock()
	})

	lo, hi := found[0].min, found[0].max
	for _, f := range found[1:] {
		if f.min < lo {
			lo = f.min
		}
		if f.max > hi {
			hi = f.max
		}
	}
	return lo, hi
}
