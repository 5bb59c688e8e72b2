package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"syscall"

	"github.com/MeKo-Tech/colordeconv/internal/archive"
	"github.com/MeKo-Tech/colordeconv/internal/imageio"
	"github.com/MeKo-Tech/colordeconv/internal/pipeline"
	"github.com/MeKo-Tech/colordeconv/internal/stain"
	"github.com/MeKo-Tech/colordeconv/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var separateCmd = &cobra.Command{
	Use:   "separate [files or directories...]",
	Short: "Separate stained images into one image per stain",
	Long: `Separate runs colour deconvolution on every input image and writes three
greyscale stain images per input into the output directory. Directories are
scanned (not recursively) for PNG, TIFF, JPEG and BMP files.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSeparate,
}

func init() {
	rootCmd.AddCommand(separateCmd)

	separateCmd.Flags().StringP("stain", "s", "H&E", "Stain preset name")
	separateCmd.Flags().String("vectors", "", "Explicit stain vectors \"x,y,z;x,y,z;x,y,z\" (overrides --stain)")
	separateCmd.Flags().String("format", "png", "Stain image format: png or tiff")
	separateCmd.Flags().IntP("workers", "w", 0, "Number of images processed in parallel (default: number of CPUs)")
	separateCmd.Flags().Int("bands", 1, "Row bands per image processed in parallel (0 = number of CPUs)")
	separateCmd.Flags().Bool("previews", false, "Also write coloured stain previews and a contact sheet")
	separateCmd.Flags().Int("thumb", 256, "Contact sheet tile width in pixels (0 = full size)")
	separateCmd.Flags().Bool("masks", false, "Also write binary stain-positive masks")
	separateCmd.Flags().Float64("mask-threshold", 0, "Mask threshold as a fraction of full scale (default 0.9)")
	separateCmd.Flags().Float32("mask-sigma", 1, "Gaussian blur sigma applied before thresholding masks")
	separateCmd.Flags().Bool("stats", false, "Also write per-stain statistics as JSON")
	separateCmd.Flags().String("archive", "", "Also store the stain images in this SQLite archive")
	separateCmd.Flags().String("suffix", "", "Suffix appended to output base names")
	separateCmd.Flags().Bool("progress", true, "Show progress bar")
	separateCmd.Flags().Bool("force", false, "Overwrite outputs that already exist")
	separateCmd.Flags().Bool("allow-failures", false, "Exit successfully even if some images fail")

	bindFlags(separateCmd, []flagBinding{
		{"separate.stain", "stain"},
		{"separate.vectors", "vectors"},
		{"separate.format", "format"},
		{"separate.workers", "workers"},
		{"separate.bands", "bands"},
		{"separate.previews", "previews"},
		{"separate.thumb", "thumb"},
		{"separate.masks", "masks"},
		{"separate.mask_threshold", "mask-threshold"},
		{"separate.mask_sigma", "mask-sigma"},
		{"separate.stats", "stats"},
		{"separate.archive", "archive"},
		{"separate.suffix", "suffix"},
		{"separate.progress", "progress"},
		{"separate.force", "force"},
		{"separate.allow_failures", "allow-failures"},
	})
}

func runSeparate(cmd *cobra.Command, args []string) error {
	stainName := viper.GetString("separate.stain")
	vectors := viper.GetString("separate.vectors")
	formatName := viper.GetString("separate.format")
	workers := viper.GetInt("separate.workers")
	bands := viper.GetInt("separate.bands")
	previews := viper.GetBool("separate.previews")
	thumb := viper.GetInt("separate.thumb")
	stats := viper.GetBool("separate.stats")
	archivePath := viper.GetString("separate.archive")
	suffix := viper.GetString("separate.suffix")
	showProgress := viper.GetBool("separate.progress")
	force := viper.GetBool("separate.force")
	allowFailures := viper.GetBool("separate.allow_failures")
	outputDir := viper.GetString("output-dir")

	if logger == nil {
		initLogging()
	}

	format, err := imageio.ParseFormat(formatName)
	if err != nil {
		return err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	inputs, err := collectInputs(args)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no images found in %s", strings.Join(args, ", "))
	}

	reg, closeRegistry, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeRegistry() // nolint:errcheck

	spec := pipeline.StainSpec{Name: stainName}
	if vectors != "" {
		spec.Name = vectors
	}

	cfg := pipeline.Config{
		Registry:      reg,
		Stain:         spec,
		OutputDir:     outputDir,
		Format:        format,
		Workers:       bands,
		Previews:      previews,
		Thumb:         thumb,
		Masks:         viper.GetBool("separate.masks"),
		MaskThreshold: viper.GetFloat64("separate.mask_threshold"),
		MaskSigma:     float32(viper.GetFloat64("separate.mask_sigma")),
		Stats:         stats,
	}

	var aw *archive.Writer
	if archivePath != "" {
		set, err := spec.Resolve(reg)
		if err != nil {
			return err
		}
		basis, err := stain.Complete(set)
		if err != nil {
			return err
		}
		aw, err = archive.New(archivePath, archive.Metadata{
			Name:        "colordeconv",
			Description: fmt.Sprintf("Stain separation of %d images", len(inputs)),
			Stain:       spec.Name,
			Vectors:     basis,
			Version:     version,
		})
		if err != nil {
			return fmt.Errorf("failed to create archive: %w", err)
		}
		defer aw.Close()
		cfg.Archive = aw
	}

	sep, err := pipeline.NewSeparator(cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("Starting stain separation",
		"images", len(inputs),
		"stain", spec.Name,
		"workers", workers,
		"output_dir", outputDir,
		"format", string(format),
		"archive", archivePath,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received interrupt signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	tasks := make([]worker.Task, 0, len(inputs))
	for _, input := range inputs {
		tasks = append(tasks, worker.Task{Input: input, Force: force, Suffix: suffix})
	}

	progress := worker.NewProgress(len(tasks), showProgress)
	pool := worker.New(worker.Config{
		Workers:    workers,
		Separator:  sep,
		OnProgress: progress.Callback(),
	})

	results := pool.Run(ctx, tasks)
	progress.Done()

	var failedCount int
	for _, r := range results {
		if r.Err != nil {
			failedCount++
			logger.Error("Separation failed", "input", r.Task.Input, "error", r.Err)
			continue
		}
		logger.Debug("Separated image", "input", r.Task.Input, "outputs", len(r.Output.Paths),
			"skipped", r.Output.Skipped, "elapsed", r.Elapsed)
	}

	logger.Info(progress.Summary())

	if aw != nil {
		if err := aw.Flush(); err != nil {
			return fmt.Errorf("failed to flush archive: %w", err)
		}
		logger.Info("Archive written", "path", archivePath)
	}

	if failedCount > 0 {
		if !allowFailures {
			return fmt.Errorf("%d of %d images failed to separate", failedCount, len(tasks))
		}
		logger.Warn("Some images failed to separate, but continuing due to --allow-failures flag", "failed_count", failedCount)
	}

	return nil
}

// imageExts lists the extensions picked up when scanning directories.
var imageExts = map[string]bool{
	".png":  true,
	".tif":  true,
	".tiff": true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
}

// collectInputs expands directories into the image files they contain. Files
// named explicitly are kept whatever their extension. The result is sorted
// and free of duplicates. Outputs are named after the input's base name
// without extension, so two inputs sharing one (a/x.png and b/x.tif) are
// rejected rather than overwriting each other.
func collectInputs(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var inputs []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			inputs = append(inputs, p)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", arg, err)
		}
		if !info.IsDir() {
			add(filepath.Clean(arg))
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", arg, err)
		}
		for _, e := range entries {
			if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			add(filepath.Join(arg, e.Name()))
		}
	}

	sort.Strings(inputs)

	owners := make(map[string]string, len(inputs))
	for _, in := range inputs {
		base := filepath.Base(in)
		base = strings.TrimSuffix(base, filepath.Ext(base))
		if prev, ok := owners[base]; ok {
			return nil, fmt.Errorf("inputs %s and %s would write the same outputs %q; separate them in different runs or rename one", prev, in, base)
		}
		owners[base] = in
	}
	return inputs, nil
}
