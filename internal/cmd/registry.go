package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/colordeconv/assets"
	"github.com/MeKo-Tech/colordeconv/internal/preset"
	"github.com/spf13/viper"
)

// openRegistry chains the YAML catalog, the SQLite catalog, the built-in
// presets and the embedded extra stains, in that order of precedence. The returned close function releases
// the SQLite catalog and is never nil.
func openRegistry() (preset.Registry, func() error, error) {
	if logger == nil {
		initLogging()
	}

	closeFn := func() error { return nil }
	var regs []preset.Registry

	if path := viper.GetString("catalog"); path != "" {
		m, err := preset.LoadFile(path)
		if err != nil {
			return nil, closeFn, err
		}
		logger.Debug("Loaded stain catalog", "path", path, "stains", len(m))
		regs = append(regs, m)
	}

	if path := viper.GetString("catalog-db"); path != "" {
		store, err := preset.OpenStore(path)
		if err != nil {
			return nil, closeFn, fmt.Errorf("failed to open stain catalog database: %w", err)
		}
		logger.Debug("Opened stain catalog database", "path", path)
		regs = append(regs, store)
		closeFn = store.Close
	}

	extras, err := preset.ParseCatalog(assets.StainCatalog)
	if err != nil {
		closeFn() // nolint:errcheck
		return nil, func() error { return nil }, fmt.Errorf("embedded stain catalog: %w", err)
	}

	regs = append(regs, preset.Builtin(), extras)
	return preset.Chain(regs...), closeFn, nil
}
