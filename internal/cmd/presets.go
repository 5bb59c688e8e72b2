package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/MeKo-Tech/colordeconv/internal/analysis"
	"github.com/MeKo-Tech/colordeconv/internal/preset"
	"github.com/MeKo-Tech/colordeconv/internal/stain"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List, import and export stain presets",
	Long: `Presets lists every stain name that --stain accepts, with its vectors and the
condition number of the completed basis.

--import copies a YAML catalog into the SQLite catalog given by --catalog-db.
--export writes every known preset to a YAML catalog.`,
	Args: cobra.NoArgs,
	RunE: runPresets,
}

func init() {
	rootCmd.AddCommand(presetsCmd)

	presetsCmd.Flags().String("import", "", "YAML catalog to import into --catalog-db")
	presetsCmd.Flags().String("export", "", "Write all presets to this YAML catalog")
	presetsCmd.Flags().String("delete", "", "Remove a preset from --catalog-db")

	bindFlags(presetsCmd, []flagBinding{
		{"presets.import", "import"},
		{"presets.export", "export"},
		{"presets.delete", "delete"},
	})
}

func runPresets(cmd *cobra.Command, args []string) error {
	importPath := viper.GetString("presets.import")
	exportPath := viper.GetString("presets.export")
	deleteName := viper.GetString("presets.delete")
	dbPath := viper.GetString("catalog-db")

	if logger == nil {
		initLogging()
	}

	if importPath != "" || deleteName != "" {
		if dbPath == "" {
			return fmt.Errorf("--catalog-db is required to import or delete presets")
		}
		if err := editStore(dbPath, importPath, deleteName); err != nil {
			return err
		}
	}

	reg, closeRegistry, err := openRegistry()
	if err != nil {
		return err
	}
	defer closeRegistry() // nolint:errcheck

	if exportPath != "" {
		m := make(preset.Map)
		for _, name := range reg.Names() {
			set, err := reg.Lookup(name)
			if err != nil {
				return err
			}
			m[name] = set
		}
		if err := preset.SaveFile(exportPath, m); err != nil {
			return err
		}
		logger.Info("Stain catalog exported", "path", exportPath, "stains", len(m))
		return nil
	}

	return printPresets(cmd, reg)
}

func editStore(dbPath, importPath, deleteName string) error {
	store, err := preset.OpenStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if importPath != "" {
		m, err := preset.LoadFile(importPath)
		if err != nil {
			return err
		}
		if err := store.Import(m); err != nil {
			return err
		}
		logger.Info("Stain catalog imported", "path", importPath, "db", dbPath, "stains", len(m))
	}
	if deleteName != "" {
		if err := store.Delete(deleteName); err != nil {
			return err
		}
		logger.Info("Preset deleted", "name", deleteName, "db", dbPath)
	}
	return nil
}

func printPresets(cmd *cobra.Command, reg preset.Registry) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTAIN 1\tSTAIN 2\tSTAIN 3\tCOND\tANGLE 1-2")

	for _, name := range reg.Names() {
		set, err := reg.Lookup(name)
		if err != nil {
			return err
		}
		cond, angle := "-", "-"
		if b, err := stain.Complete(set); err == nil {
			cond = fmt.Sprintf("%.2f", analysis.Condition(b))
			angle = fmt.Sprintf("%.1f°", analysis.Angle(b[0], b[1]))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", name, set[0], set[1], set[2], cond, angle)
	}
	return tw.Flush()
}
