package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/colordeconv/internal/archive"
	"github.com/MeKo-Tech/colordeconv/internal/imageio"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var exportCmd = &cobra.Command{
	Use:   "export <archive>",
	Short: "Export stain images from a SQLite archive",
	Long: `Export writes the stain images stored by "separate --archive" back to
individual files in the output directory. With --list it only prints the
archive metadata and the stored sources.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().Bool("list", false, "List archive contents instead of exporting")
	exportCmd.Flags().String("format", "png", "Output format: png or tiff")
	exportCmd.Flags().String("source", "", "Export only this source image")

	bindFlags(exportCmd, []flagBinding{
		{"export.list", "list"},
		{"export.format", "format"},
		{"export.source", "source"},
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	path := args[0]
	list := viper.GetBool("export.list")
	formatName := viper.GetString("export.format")
	only := viper.GetString("export.source")
	outputDir := viper.GetString("output-dir")

	if logger == nil {
		initLogging()
	}

	format, err := imageio.ParseFormat(formatName)
	if err != nil {
		return err
	}

	r, err := archive.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	meta, err := r.Metadata()
	if err != nil {
		return err
	}
	sources, err := r.Sources()
	if err != nil {
		return err
	}

	if list {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "name: %s\nstain: %s\nversion: %s\n", meta.Name, meta.Stain, meta.Version)
		for i, v := range meta.Vectors {
			fmt.Fprintf(out, "vector %d: %s\n", i+1, v)
		}
		for _, s := range sources {
			fmt.Fprintln(out, s)
		}
		return nil
	}

	if only != "" {
		sources = []string{only}
	}

	logger.Info("Exporting archive", "archive", path, "sources", len(sources), "output_dir", outputDir)

	written := 0
	for _, source := range sources {
		base := strings.TrimSuffix(source, filepath.Ext(source))
		for k := 1; k <= 3; k++ {
			img, err := r.Image(source, k)
			if err != nil {
				return fmt.Errorf("failed to read %s stain %d: %w", source, k, err)
			}
			out := filepath.Join(outputDir, fmt.Sprintf("%s_stain%d%s", base, k, format.Ext()))
			if err := imageio.Save(out, img); err != nil {
				return err
			}
			written++
		}
	}

	logger.Info("Export complete", "archive", path, "images", written)
	return nil
}
