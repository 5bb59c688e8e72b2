// Package archive stores separated stain images in a single SQLite file.
package archive

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/colordeconv/internal/stain"
)

// Metadata describes how the separations in an archive were produced.
type Metadata struct {
	Name        string // Human-readable archive name
	Description string
	Stain       string // Preset name or vector string
	Vectors     stain.Basis
	Version     string
}

// ToMap converts Metadata to a map for database insertion.
func (m Metadata) ToMap() map[string]string {
	result := make(map[string]string)

	if m.Name != "" {
		result["name"] = m.Name
	}
	if m.Description != "" {
		result["description"] = m.Description
	}
	if m.Stain != "" {
		result["stain"] = m.Stain
	}
	if m.Vectors != (stain.Basis{}) {
		parts := make([]string, 0, 3)
		for _, v := range m.Vectors {
			parts = append(parts, fmt.Sprintf("%.8f,%.8f,%.8f", v[0], v[1], v[2]))
		}
		result["vectors"] = strings.Join(parts, ";")
	}
	if m.Version != "" {
		result["version"] = m.Version
	}

	return result
}

// fromMap is the inverse of ToMap. Unparseable vectors are left zero.
func fromMap(values map[string]string) Metadata {
	meta := Metadata{
		Name:        values["name"],
		Description: values["description"],
		Stain:       values["stain"],
		Version:     values["version"],
	}

	// "x,y,z;x,y,z;x,y,z"
	if v, ok := values["vectors"]; ok {
		for i, vec := range strings.Split(v, ";") {
			if i >= 3 {
				break
			}
			parts := strings.Split(vec, ",")
			if len(parts) != 3 {
				continue
			}
			for j, part := range parts {
				if f, err := strconv.ParseFloat(strings.TrimSpace(part), 64); err == nil {
					meta.Vectors[i][j] = f
				}
			}
		}
	}

	return meta
}
