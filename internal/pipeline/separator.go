package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/colordeconv/internal/analysis"
	"github.com/MeKo-Tech/colordeconv/internal/archive"
	"github.com/MeKo-Tech/colordeconv/internal/deconv"
	"github.com/MeKo-Tech/colordeconv/internal/imageio"
	"github.com/MeKo-Tech/colordeconv/internal/mask"
	"github.com/MeKo-Tech/colordeconv/internal/preset"
	"github.com/MeKo-Tech/colordeconv/internal/render"
	"github.com/MeKo-Tech/colordeconv/internal/stain"
)

// Config configures a Separator.
type Config struct {
	Registry  preset.Registry // nil means built-in presets
	Stain     StainSpec
	OutputDir string
	Format    imageio.Format
	// Workers is the number of row bands per image (0 = number of CPUs).
	Workers  int
	Previews bool
	// Thumb is the contact sheet tile width (0 = full size).
	Thumb int
	// Masks writes a binary stain-positive mask per stain, thresholded at
	// MaskThreshold (fraction of the separation's range, 0 = analysis.StainedThreshold)
	// after a Gaussian blur of MaskSigma pixels.
	Masks         bool
	MaskThreshold float64
	MaskSigma     float32
	Stats         bool
	Archive       *archive.Writer // optional
}

// Stats is the content of the per-image statistics file.
type Stats struct {
	Source    string                  `json:"source"`
	Stain     string                  `json:"stain"`
	Depth     int                     `json:"depth"`
	Width     int                     `json:"width"`
	Height    int                     `json:"height"`
	Min       uint16                  `json:"min"`
	Max       uint16                  `json:"max"`
	Condition float64                 `json:"condition"`
	Channels  []analysis.ChannelStats `json:"channels"`
	// Coverage is the stain-positive area fraction per stain, set when
	// masks are written.
	Coverage []float64 `json:"coverage,omitempty"`
}

// Output describes the result of separating one file.
type Output struct {
	Paths []string
	// Pixels and Depth describe the separated image; both are zero when
	// existing outputs were kept.
	Pixels  int
	Depth   deconv.Depth
	Skipped bool
}

// Separator reads image files, separates them with a fixed basis and writes
// the stain images plus optional previews and statistics.
type Separator struct {
	cfg    Config
	basis  stain.Basis
	matrix stain.Matrix
	deconv *deconv.Deconvolver
	logger *slog.Logger
}

// NewSeparator resolves the stain spec and builds the deconvolution matrix
// once for all images.
func NewSeparator(cfg Config, logger *slog.Logger) (*Separator, error) {
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output directory must be set")
	}
	if cfg.Format == "" {
		cfg.Format = imageio.FormatPNG
	}
	if cfg.MaskThreshold <= 0 {
		cfg.MaskThreshold = analysis.StainedThreshold
	}

	set, err := cfg.Stain.Resolve(cfg.Registry)
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

	return &Separator{
		cfg:    cfg,
		basis:  basis,
		matrix: m,
		deconv: deconv.New(deconv.Config{Workers: cfg.Workers}),
		logger: logger,
	}, nil
}

// Basis returns the completed stain basis.
func (s *Separator) Basis() stain.Basis {
	return s.basis
}

// Separate processes one input file and reports the paths it wrote (or
// found already present). suffix is appended to the output base name.
// Nothing is written unless every output was produced.
func (s *Separator) Separate(ctx context.Context, input string, force bool, suffix string) (Output, error) {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + suffix
	outputs := s.outputPaths(base)

	if !force && allExist(outputs) {
		s.log().Info("Outputs already exist; skipping", "input", input, "dir", s.cfg.OutputDir)
		return Output{Paths: outputs, Skipped: true}, nil
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	s.log().Debug("Loading image", "input", input)
	img, err := imageio.Load(input)
	if err != nil {
		return Output{}, err
	}
	if img.Width < minSide || img.Height < minSide {
		return Output{}, fmt.Errorf("%w: %s is %dx%d", deconv.ErrInvalidImageShape, input, img.Width, img.Height)
	}

	s.log().Info("Separating stains", "input", input, "depth", img.Depth.String(), "width", img.Width, "height", img.Height)
	sep, err := s.deconv.Apply(s.matrix, img)
	if err != nil {
		return Output{}, fmt.Errorf("failed to separate %s: %w", input, err)
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	images := make(map[string]image.Image, len(outputs))
	for k := range sep.Stains {
		images[outputs[k]] = sep.Stains[k]
	}

	var statsData []byte
	i := 3
	if s.cfg.Previews {
		sheet, err := render.ContactSheet(img, sep, s.basis, s.cfg.Thumb)
		if err != nil {
			return Output{}, fmt.Errorf("failed to render preview: %w", err)
		}
		images[outputs[i]] = sheet
		i++
		for k, v := range s.basis {
			images[outputs[i]] = render.Preview(sep, k, v)
			i++
		}
	}
	var coverage []float64
	if s.cfg.Masks {
		for k := range sep.Stains {
			m := mask.Stain(sep, k, s.cfg.MaskThreshold, s.cfg.MaskSigma)
			coverage = append(coverage, mask.Coverage(m))
			images[outputs[i]] = m
			i++
		}
	}
	if s.cfg.Stats {
		stats := Stats{
			Source:    filepath.Base(input),
			Stain:     s.stainLabel(),
			Depth:     int(sep.Depth),
			Width:     sep.Width,
			Height:    sep.Height,
			Min:       sep.Min,
			Max:       sep.Max,
			Condition: analysis.Condition(s.basis),
			Channels:  analysis.Summarize(sep),
			Coverage:  coverage,
		}
		statsData, err = json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return Output{}, fmt.Errorf("failed to encode stats: %w", err)
		}
	}

	for _, path := range outputs {
		if out, ok := images[path]; ok {
			s.log().Debug("Writing output", "path", path)
			if err := imageio.Save(path, out); err != nil {
				return Output{}, err
			}
		}
	}
	if statsData != nil {
		if err := os.WriteFile(outputs[len(outputs)-1], statsData, 0o644); err != nil {
			return Output{}, fmt.Errorf("failed to write stats: %w", err)
		}
	}

	if s.cfg.Archive != nil {
		if err := s.cfg.Archive.WriteSeparation(filepath.Base(input), sep); err != nil {
			return Output{}, fmt.Errorf("failed to archive %s: %w", input, err)
		}
	}

	return Output{Paths: outputs, Pixels: sep.Width * sep.Height, Depth: sep.Depth}, nil
}

// outputPaths lists stain images, then previews, masks and the stats file
// when enabled, in that order.
func (s *Separator) outputPaths(base string) []string {
	dir := s.cfg.OutputDir
	ext := s.cfg.Format.Ext()

	paths := make([]string, 0, 11)
	for k := 1; k <= 3; k++ {
		paths = append(paths, filepath.Join(dir, fmt.Sprintf("%s_stain%d%s", base, k, ext)))
	}
	if s.cfg.Previews {
		paths = append(paths, filepath.Join(dir, base+"_preview.png"))
		for k := 1; k <= 3; k++ {
			paths = append(paths, filepath.Join(dir, fmt.Sprintf("%s_stain%d_lut.png", base, k)))
		}
	}
	if s.cfg.Masks {
		for k := 1; k <= 3; k++ {
			paths = append(paths, filepath.Join(dir, fmt.Sprintf("%s_stain%d_mask.png", base, k)))
		}
	}
	if s.cfg.Stats {
		paths = append(paths, filepath.Join(dir, base+"_stats.json"))
	}
	return paths
}

func (s *Separator) stainLabel() string {
	if s.cfg.Stain.Fields != nil {
		return "custom"
	}
	return s.cfg.Stain.Name
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (s *Separator) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
