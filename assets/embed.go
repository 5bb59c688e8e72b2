// Package assets embeds data files shipped inside the binary.
package assets

import (
	_ "embed"
)

// StainCatalog is a YAML stain catalog of vector sets beyond the built-in
// presets, in the layout read by preset.ParseCatalog.
//
//go:embed stains.yaml
var StainCatalog []byte
