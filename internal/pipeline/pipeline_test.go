package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/colordeconv/internal/archive"
	"github.com/MeKo-Tech/colordeconv/internal/deconv"
	"github.com/MeKo-Tech/colordeconv/internal/imageio"
	"github.com/MeKo-Tech/colordeconv/internal/preset"
	"github.com/MeKo-Tech/colordeconv/internal/stain"
	"github.com/MeKo-Tech/colordeconv/internal/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func specimen(t *testing.T, name string, depth deconv.Depth, seed int64) *deconv.Image {
	t.Helper()
	set, err := preset.Builtin().Lookup(name)
	require.NoError(t, err)
	b, err := stain.Complete(set)
	require.NoError(t, err)
	s, err := synth.NewSpecimen(b, synth.SpecimenConfig{Width: 32, Height: 24, Seed: seed, Depth: depth})
	require.NoError(t, err)
	return s.Image
}

func TestDeconvolve(t *testing.T) {
	img := specimen(t, "H&E", deconv.Depth8, 1)

	res, err := Deconvolve(img, StainSpec{Name: "H&E"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 32, res.Separation.Width)
	assert.Equal(t, deconv.Depth8, res.Separation.Depth)

	again, err := Deconvolve(img, StainSpec{Name: "HE"}, preset.Builtin())
	require.NoError(t, err)
	for k := 0; k < 3; k++ {
		assert.Equal(t, res.Separation.Gray(k).Pix, again.Separation.Gray(k).Pix)
	}

	fields, err := Deconvolve(img, StainSpec{Fields: stain.VectorSet{
		{0.644211, 0.716556, 0.266844}, {0.092789, 0.954111, 0.283111},
	}.Fields()}, nil)
	require.NoError(t, err)
	assert.Equal(t, res.Matrix, fields.Matrix)
}

func TestDeconvolveErrors(t *testing.T) {
	img := specimen(t, "H&E", deconv.Depth8, 1)

	tests := []struct {
		name string
		img  *deconv.Image
		spec StainSpec
		want error
	}{
		{"unknown preset", img, StainSpec{Name: "Giemsa"}, stain.ErrInvalidStainSpec},
		{"empty spec", img, StainSpec{}, stain.ErrInvalidStainSpec},
		{"missing fields", img, StainSpec{Fields: map[string]float64{"MODx_0": 1}}, stain.ErrInvalidStainSpec},
		{"collinear vectors", img, StainSpec{Name: "1,0,0;2,0,0;1,0,0"}, stain.ErrDegenerateBasis},
		{"single row", mustImage8(t, 5, 1), StainSpec{Name: "H&E"}, deconv.ErrInvalidImageShape},
		{"single column", mustImage8(t, 1, 5), StainSpec{Name: "H&E"}, deconv.ErrInvalidImageShape},
		{"nil image", nil, StainSpec{Name: "H&E"}, deconv.ErrInvalidImageShape},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Deconvolve(tt.img, tt.spec, nil)
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, res)
		})
	}
}

func mustImage8(t *testing.T, w, h int) *deconv.Image {
	t.Helper()
	n := w * h
	img, err := deconv.NewImage8(w, h, make([]uint8, n), make([]uint8, n), make([]uint8, n))
	require.NoError(t, err)
	return img
}

func TestDeconvolveStack(t *testing.T) {
	a := specimen(t, "H DAB", deconv.Depth16, 1)
	b := specimen(t, "H DAB", deconv.Depth16, 2)

	results, err := DeconvolveStack(deconv.Stack{a, b}, StainSpec{Name: "H DAB"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for i, img := range []*deconv.Image{a, b} {
		lo, hi := deconv.RedRange(img)
		assert.Equal(t, lo, results[i].Separation.Min, "slice %d", i)
		assert.Equal(t, hi, results[i].Separation.Max, "slice %d", i)
	}

	_, err = DeconvolveStack(deconv.Stack{}, StainSpec{Name: "H DAB"}, nil)
	require.ErrorIs(t, err, deconv.ErrInvalidImageShape)

	_, err = DeconvolveStack(deconv.Stack{a, specimen(t, "H DAB", deconv.Depth8, 3)}, StainSpec{Name: "H DAB"}, nil)
	require.ErrorIs(t, err, deconv.ErrInvalidImageShape)
}

func TestSeparator(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in", "slide.png")
	require.NoError(t, imageio.Save(input, imageio.ToImage(specimen(t, "H&E", deconv.Depth8, 5))))

	aw, err := archive.New(filepath.Join(dir, "stains.db"), archive.Metadata{Name: "test", Stain: "H&E"})
	require.NoError(t, err)

	out := filepath.Join(dir, "out")
	sep, err := NewSeparator(Config{
		Stain:     StainSpec{Name: "H&E"},
		OutputDir: out,
		Format:    imageio.FormatTIFF,
		Previews:  true,
		Thumb:     16,
		Masks:     true,
		MaskSigma: 1,
		Stats:     true,
		Archive:   aw,
	}, nil)
	require.NoError(t, err)

	res, err := sep.Separate(context.Background(), input, false, "@2x")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 32*24, res.Pixels)
	assert.Equal(t, deconv.Depth8, res.Depth)
	paths := res.Paths
	require.Len(t, paths, 3+4+3+1)
	assert.Equal(t, filepath.Join(out, "slide@2x_stain1.tif"), paths[0])
	assert.Equal(t, filepath.Join(out, "slide@2x_stain1_mask.png"), paths[7])
	for _, p := range paths {
		assert.FileExists(t, p)
	}

	stain1, err := imageio.Load(paths[0])
	require.NoError(t, err)
	assert.Equal(t, 32, stain1.Width)

	data, err := os.ReadFile(paths[len(paths)-1])
	require.NoError(t, err)
	var stats Stats
	require.NoError(t, json.Unmarshal(data, &stats))
	assert.Equal(t, "slide.png", stats.Source)
	assert.Equal(t, "H&E", stats.Stain)
	assert.Len(t, stats.Channels, 3)
	assert.Greater(t, stats.Condition, 1.0)
	require.Len(t, stats.Coverage, 3)
	for _, c := range stats.Coverage {
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
	}

	require.NoError(t, aw.Close())
	r, err := archive.OpenReader(filepath.Join(dir, "stains.db"))
	require.NoError(t, err)
	defer r.Close()
	sources, err := r.Sources()
	require.NoError(t, err)
	assert.Equal(t, []string{"slide.png"}, sources)
}

func TestSeparatorSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "slide.png")
	require.NoError(t, imageio.Save(input, imageio.ToImage(specimen(t, "H DAB", deconv.Depth8, 9))))

	sep, err := NewSeparator(Config{Stain: StainSpec{Name: "H DAB"}, OutputDir: dir}, nil)
	require.NoError(t, err)

	res, err := sep.Separate(context.Background(), input, false, "")
	require.NoError(t, err)
	require.Len(t, res.Paths, 3)

	// a broken input is not read again while its outputs exist
	require.NoError(t, os.WriteFile(input, []byte("not an image"), 0o644))
	res, err = sep.Separate(context.Background(), input, false, "")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, res.Pixels)

	_, err = sep.Separate(context.Background(), input, true, "")
	require.Error(t, err)
}

func TestSeparatorCancelled(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "slide.png")
	require.NoError(t, imageio.Save(input, imageio.ToImage(specimen(t, "H&E", deconv.Depth8, 2))))

	sep, err := NewSeparator(Config{Stain: StainSpec{Name: "H&E"}, OutputDir: filepath.Join(dir, "out")}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sep.Separate(ctx, input, false, "")
	require.ErrorIs(t, err, context.Canceled)
	assert.NoDirExists(t, filepath.Join(dir, "out"))
}

func TestNewSeparatorErrors(t *testing.T) {
	_, err := NewSeparator(Config{Stain: StainSpec{Name: "H&E"}}, nil)
	require.Error(t, err)

	_, err = NewSeparator(Config{Stain: StainSpec{Name: "nope"}, OutputDir: t.TempDir()}, nil)
	require.ErrorIs(t, err, stain.ErrInvalidStainSpec)
}
