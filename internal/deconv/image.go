// Package deconv applies a deconvolution matrix to RGB images, producing one
// greyscale image per stain.
package deconv

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// ErrInvalidImageShape reports an image that is not exactly three equal-size
// colour planes.
var ErrInvalidImageShape = errors.New("invalid image shape")

// Depth is the sample width of an image.
type Depth int

const (
	Depth8  Depth = 8
	Depth16 Depth = 16
)

func (d Depth) String() string {
	switch d {
	case Depth8:
		return "8-bit"
	case Depth16:
		return "16-bit"
	default:
		return fmt.Sprintf("Depth(%d)", int(d))
	}
}

// Image is an RGB image stored as three planes in row-major order. Only the
// planes matching Depth are populated.
type Image struct {
	Width    int
	Height   int
	Depth    Depth
	Planes8  [3][]uint8
	Planes16 [3][]uint16
}

// NewImage8 wraps three 8-bit planes of width*height samples. The planes are
// not copied.
func NewImage8(width, height int, r, g, b []uint8) (*Image, error) {
	img := &Image{Width: width, Height: height, Depth: Depth8, Planes8: [3][]uint8{r, g, b}}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// NewImage16 wraps three 16-bit planes of width*height samples. The planes
// are not copied.
func NewImage16(width, height int, r, g, b []uint16) (*Image, error) {
	img := &Image{Width: width, Height: height, Depth: Depth16, Planes16: [3][]uint16{r, g, b}}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// FromInterleaved8 splits (height, width, channels) interleaved samples into
// planes. channels must be 3.
func FromInterleaved8(width, height, channels int, pix []uint8) (*Image, error) {
	if err := checkInterleaved(width, height, channels, len(pix)); err != nil {
		return nil, err
	}
	n := width * height
	var planes [3][]uint8
	for c := range planes {
		planes[c] = make([]uint8, n)
	}
	for i := 0; i < n; i++ {
		planes[0][i] = pix[i*3]
		planes[1][i] = pix[i*3+1]
		planes[2][i] = pix[i*3+2]
	}
	return NewImage8(width, height, planes[0], planes[1], planes[2])
}

// FromInterleaved16 is the 16-bit counterpart of FromInterleaved8.
func FromInterleaved16(width, height, channels int, pix []uint16) (*Image, error) {
	if err := checkInterleaved(width, height, channels, len(pix)); err != nil {
		return nil, err
	}
	n := width * height
	var planes [3][]uint16
	for c := range planes {
		planes[c] = make([]uint16, n)
	}
	for i := 0; i < n; i++ {
		planes[0][i] = pix[i*3]
		planes[1][i] = pix[i*3+1]
		planes[2][i] = pix[i*3+2]
	}
	return NewImage16(width, height, planes[0], planes[1], planes[2])
}

func checkInterleaved(width, height, channels, length int) error {
	if channels != 3 {
		return fmt.Errorf("%w: expected 3 colour channels, got %d", ErrInvalidImageShape, channels)
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d must be positive", ErrInvalidImageShape, width, height)
	}
	if length != width*height*channels {
		return fmt.Errorf("%w: expected %d samples, got %d", ErrInvalidImageShape, width*height*channels, length)
	}
	return nil
}

// Validate checks dimensions, depth and plane lengths.
func (img *Image) Validate() error {
	if img == nil {
		return fmt.Errorf("%w: nil image", ErrInvalidImageShape)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d must be positive", ErrInvalidImageShape, img.Width, img.Height)
	}

	n := img.Width * img.Height
	switch img.Depth {
	case Depth8:
		for c, p := range img.Planes8 {
			if len(p) != n {
				return fmt.Errorf("%w: plane %d has %d samples, want %d", ErrInvalidImageShape, c, len(p), n)
			}
		}
	case Depth16:
		for c, p := range img.Planes16 {
			if len(p) != n {
				return fmt.Errorf("%w: plane %d has %d samples, want %d", ErrInvalidImageShape, c, len(p), n)
			}
		}
	default:
		return fmt.Errorf("%w: unsupported depth %s", ErrInvalidImageShape, img.Depth)
	}
	return nil
}

// Stack is a sequence of equally sized depth slices, each processed as an
// independent image.
type Stack []*Image

// Validate checks that the stack is non-empty and every slice matches the
// first in size and depth.
func (s Stack) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: empty stack", ErrInvalidImageShape)
	}
	first := s[0]
	for i, img := range s {
		if err := img.Validate(); err != nil {
			return fmt.Errorf("slice %d: %w", i, err)
		}
		if img.Width != first.Width || img.Height != first.Height || img.Depth != first.Depth {
			return fmt.Errorf("%w: slice %d is %dx%d %s, want %dx%d %s", ErrInvalidImageShape,
				i, img.Width, img.Height, img.Depth, first.Width, first.Height, first.Depth)
		}
	}
	return nil
}

// Separation holds the three stain images produced from one source image.
// Stains are *image.Gray for 8-bit sources and *image.Gray16 for 16-bit ones.
type Separation struct {
	Width  int
	Height int
	Depth  Depth
	Stains [3]image.Image
	// Min and Max are the red-plane bounds used to rescale 16-bit data;
	// 8-bit separations report the full 0..255 range.
	Min uint16
	Max uint16
}

func newSeparation(width, height int, depth Depth) *Separation {
	s := &Separation{Width: width, Height: height, Depth: depth}
	r := image.Rect(0, 0, width, height)
	for i := range s.Stains {
		if depth == Depth16 {
			s.Stains[i] = image.NewGray16(r)
		} else {
			s.Stains[i] = image.NewGray(r)
		}
	}
	return s
}

// Gray returns stain i of an 8-bit separation, or nil.
func (s *Separation) Gray(i int) *image.Gray {
	g, _ := s.Stains[i].(*image.Gray)
	return g
}

// Gray16 returns stain i of a 16-bit separation, or nil.
func (s *Separation) Gray16(i int) *image.Gray16 {
	g, _ := s.Stains[i].(*image.Gray16)
	return g
}

// Value returns the sample of stain i at (x, y) in the source bit depth.
func (s *Separation) Value(i, x, y int) uint16 {
	switch g := s.Stains[i].(type) {
	case *image.Gray:
		return uint16(g.GrayAt(x, y).Y)
	case *image.Gray16:
		return g.Gray16At(x, y).Y
	}
	return 0
}

// Normalized returns stain i as an 8-bit image with the separation's
// [Min, Max] range stretched to 0..255, so unstained background is 255 at
// either depth. A collapsed range (Min == Max) maps every sample to 255.
func (s *Separation) Normalized(i int) *image.Gray {
	if g := s.Gray(i); g != nil && s.Min == 0 && s.Max == 255 {
		return g
	}

	dst := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
	lo := float64(s.Min)
	span := float64(s.Max) - lo
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			if span <= 0 {
				dst.Pix[y*dst.Stride+x] = 255
				continue
			}
			f := (float64(s.Value(i, x, y)) - lo) / span * 255
			dst.Pix[y*dst.Stride+x] = uint8(math.Max(0, math.Min(255, math.Floor(f+0.5))))
		}
	}
	return dst
}

// Level maps a fraction of the [Min, Max] range to a sample value.
func (s *Separation) Level(fraction float64) float64 {
	return float64(s.Min) + fraction*(float64(s.Max)-float64(s.Min))
}
