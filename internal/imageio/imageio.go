// Package imageio converts between encoded image files and deconv images.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/colordeconv/internal/deconv"
	"golang.org/x/image/tiff"

	_ "image/jpeg"             // Register JPEG decoder
	_ "golang.org/x/image/bmp" // Register BMP decoder
)

// ErrTooLarge reports an image whose header declares more pixels than
// allowed.
var ErrTooLarge = errors.New("image too large")

// Format is an output encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatTIFF Format = "tiff"
)

// ParseFormat accepts "png", "tif" and "tiff" in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "png":
		return FormatPNG, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", s)
	}
}

// Ext returns the file extension for f, including the dot.
func (f Format) Ext() string {
	if f == FormatTIFF {
		return ".tif"
	}
	return ".png"
}

// Load reads and decodes an image file.
func Load(path string) (*deconv.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer file.Close()

	img, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// Decode reads any registered format (PNG, JPEG, TIFF, BMP).
func Decode(r io.Reader) (*deconv.Image, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	return FromImage(src)
}

// DecodeLimit decodes data after checking the dimensions in its header
// against maxPixels, so oversized images are rejected before any pixel
// buffer is allocated. maxPixels <= 0 disables the check.
func DecodeLimit(data []byte, maxPixels int64) (*deconv.Image, error) {
	if maxPixels > 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		if n := int64(cfg.Width) * int64(cfg.Height); n > maxPixels {
			return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
		}
	}
	return Decode(bytes.NewReader(data))
}

// Is16Bit reports whether img carries 16-bit samples.
func Is16Bit(img image.Image) bool {
	switch img.(type) {
	case *image.RGBA64, *image.NRGBA64, *image.Gray16:
		return true
	default:
		return false
	}
}

// FromImage splits img into colour planes. Sources with 16-bit samples
// produce a Depth16 image, everything else Depth8. Alpha is ignored and
// greyscale sources are replicated into all three planes.
func FromImage(src image.Image) (*deconv.Image, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: empty image", deconv.ErrInvalidImageShape)
	}
	n := w * h

	if Is16Bit(src) {
		planes := [3][]uint16{make([]uint16, n), make([]uint16, n), make([]uint16, n)}
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBA64Model.Convert(src.At(x, y)).(color.NRGBA64)
				planes[0][i], planes[1][i], planes[2][i] = c.R, c.G, c.B
				i++
			}
		}
		return deconv.NewImage16(w, h, planes[0], planes[1], planes[2])
	}

	planes := [3][]uint8{make([]uint8, n), make([]uint8, n), make([]uint8, n)}
	switch m := src.(type) {
	case *image.NRGBA:
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := m.Pix[m.PixOffset(b.Min.X, y):]
			for x := 0; x < w; x++ {
				planes[0][i], planes[1][i], planes[2][i] = row[x*4], row[x*4+1], row[x*4+2]
				i++
			}
		}
	case *image.Gray:
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := m.Pix[m.PixOffset(b.Min.X, y):]
			for x := 0; x < w; x++ {
				planes[0][i], planes[1][i], planes[2][i] = row[x], row[x], row[x]
				i++
			}
		}
	default:
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
				planes[0][i], planes[1][i], planes[2][i] = c.R, c.G, c.B
				i++
			}
		}
	}
	return deconv.NewImage8(w, h, planes[0], planes[1], planes[2])
}

// ToImage interleaves img into an opaque *image.NRGBA (8-bit) or
// *image.NRGBA64 (16-bit).
func ToImage(img *deconv.Image) image.Image {
	r := image.Rect(0, 0, img.Width, img.Height)
	n := img.Width * img.Height

	if img.Depth == deconv.Depth16 {
		dst := image.NewNRGBA64(r)
		for i := 0; i < n; i++ {
			p := dst.Pix[i*8 : i*8+8]
			for c := 0; c < 3; c++ {
				v := img.Planes16[c][i]
				p[c*2] = uint8(v >> 8)
				p[c*2+1] = uint8(v)
			}
			p[6], p[7] = 0xff, 0xff
		}
		return dst
	}

	dst := image.NewNRGBA(r)
	for i := 0; i < n; i++ {
		p := dst.Pix[i*4 : i*4+4]
		p[0], p[1], p[2], p[3] = img.Planes8[0][i], img.Planes8[1][i], img.Planes8[2][i], 0xff
	}
	return dst
}

// Encode writes img in the given format. TIFF output is deflate-compressed.
func Encode(w io.Writer, img image.Image, format Format) error {
	switch format {
	case FormatPNG, "":
		return png.Encode(w, img)
	case FormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// Save encodes img to path, creating parent directories. The format is
// taken from the path extension.
func Save(path string, img image.Image) error {
	format, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Encode(file, img, format); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}
