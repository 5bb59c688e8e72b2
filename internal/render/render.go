// Package render turns stain images into coloured previews.
package render

import (
	"fmt"
	"image"

	"github.com/MeKo-Tech/colordeconv/internal/deconv"
	"github.com/MeKo-Tech/colordeconv/internal/imageio"
	"github.com/MeKo-Tech/colordeconv/internal/stain"
	"github.com/disintegration/gift"
)

// Colorize maps a stain intensity image onto the stain's own colour: full
// intensity stays white and each colour channel c darkens as
// 255 - (255 - v) * cos_c, where cos is the normalised stain vector.
// Gray and Gray16 sources are both accepted; the preview is 8-bit.
func Colorize(src image.Image, v stain.Vector) *image.NRGBA {
	cos := v.Normalize()
	cr, cg, cb := float32(cos[0]), float32(cos[1]), float32(cos[2])

	g := gift.New(gift.ColorFunc(func(r0, g0, b0, a0 float32) (float32, float32, float32, float32) {
		return 1 - (1-r0)*cr, 1 - (1-g0)*cg, 1 - (1-b0)*cb, 1
	}))
	dst := image.NewNRGBA(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return dst
}

// Preview colourises stain k of a separation after stretching its
// [Min, Max] range to full scale.
func Preview(sep *deconv.Separation, k int, v stain.Vector) *image.NRGBA {
	return Colorize(sep.Normalized(k), v)
}

// Thumbnail scales img to the given width, keeping the aspect ratio.
func Thumbnail(img image.Image, width int) image.Image {
	if width <= 0 || img.Bounds().Dx() == width {
		return img
	}
	g := gift.New(gift.Resize(width, 0, gift.LanczosResampling))
	dst := image.NewNRGBA(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}

// sheetGap is the white margin between and around contact sheet tiles.
const sheetGap = 4

// ContactSheet lays out the source image and the coloured preview of each
// stain side by side, scaled to thumb pixels wide (0 keeps full size).
// Stains whose basis vector is zero are skipped.
func ContactSheet(src *deconv.Image, sep *deconv.Separation, basis stain.Basis, thumb int) (*image.NRGBA, error) {
	if src.Width != sep.Width || src.Height != sep.Height {
		return nil, fmt.Errorf("%w: source %dx%d does not match separation %dx%d",
			deconv.ErrInvalidImageShape, src.Width, src.Height, sep.Width, sep.Height)
	}

	tiles := []image.Image{Thumbnail(imageio.ToImage(src), thumb)}
	for k, v := range basis {
		if v.IsZero() {
			continue
		}
		tiles = append(tiles, Thumbnail(Preview(sep, k, v), thumb))
	}

	tw, th := tiles[0].Bounds().Dx(), tiles[0].Bounds().Dy()
	w := len(tiles)*(tw+sheetGap) + sheetGap
	h := th + 2*sheetGap

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range dst.Pix {
		dst.Pix[i] = 0xff
	}

	x := sheetGap
	for _, tile := range tiles {
		gift.New().DrawAt(dst, tile, image.Pt(x, sheetGap), gift.CopyOperator)
		x += tw + sheetGap
	}
	return dst, nil
}
