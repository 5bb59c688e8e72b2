// Package pipeline wires stain lookup, basis construction and pixel
// deconvolution into single calls, for in-memory images and for files.
package pipeline

import (
	"fmt"

	"github.com/MeKo-Tech/colordeconv/internal/deconv"
	"github.com/MeKo-Tech/colordeconv/internal/preset"
	"github.com/MeKo-Tech/colordeconv/internal/stain"
)

// StainSpec selects the stain vectors. Exactly one of Name and Fields should
// be set; Fields wins when both are.
type StainSpec struct {
	// Name is a preset name or a "x,y,z;x,y,z;x,y,z" vector string.
	Name string
	// Fields holds the nine MODx_0..MODz_2 components.
	Fields map[string]float64
}

// Resolve turns the spec into a vector set using reg (built-ins when nil).
func (s StainSpec) Resolve(reg preset.Registry) (stain.VectorSet, error) {
	if s.Fields != nil {
		return stain.FromFields(s.Fields)
	}
	if s.Name == "" {
		return stain.VectorSet{}, fmt.Errorf("%w: no stain given", stain.ErrInvalidStainSpec)
	}
	return preset.Resolve(reg, s.Name)
}

// Result is a separation together with the basis that produced it.
type Result struct {
	Basis      stain.Basis
	Matrix     stain.Matrix
	Separation *deconv.Separation
}

// minSide is the smallest accepted width and height.
const minSide = 2

// Deconvolve separates img into three stain images. Invalid stain specs,
// degenerate bases and malformed images all fail before any pixel is
// written.
func Deconvolve(img *deconv.Image, spec StainSpec, reg preset.Registry) (*Result, error) {
	results, err := DeconvolveStack(deconv.Stack{img}, spec, reg)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// DeconvolveStack separates every depth slice independently. The 16-bit
// rescale range is computed per slice.
func DeconvolveStack(stack deconv.Stack, spec StainSpec, reg preset.Registry) ([]*Result, error) {
	if err := stack.Validate(); err != nil {
		return nil, err
	}
	if w, h := stack[0].Width, stack[0].Height; w < minSide || h < minSide {
		return nil, fmt.Errorf("%w: %dx%d is not an image, need at least %dx%d",
			deconv.ErrInvalidImageShape, w, h, minSide, minSide)
	}

	set, err := spec.Resolve(reg)
	if err != nil {
		return nil, err
	}
	basis, err := stain.Complete(set)
	if err != nil {
		return nil, err
	}
	m, err := basis.Invert()
	if err != nil {
		return nil, err
	}

	d := deconv.New(deconv.Config{})
	results := make([]*Result, len(stack))
	for i, img := range stack {
		sep, err := d.Apply(m, img)
		if err != nil {
			return nil, fmt.Errorf("slice %d: %w", i, err)
		}
		results[i] = &Result{Basis: basis, Matrix: m, Separation: sep}
	}
	return results, nil
}
