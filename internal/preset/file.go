package preset

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/colordeconv/internal/stain"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk YAML layout of a user stain catalog:
//
//	stains:
//	  - name: Masson
//	    vectors:
//	      - [0.7995107, 0.5913521, 0.10528667]
//	      - [0.09997159, 0.73738605, 0.6680326]
type catalogFile struct {
	Stains []catalogEntry `yaml:"stains"`
}

type catalogEntry struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Vectors     [][]float64 `yaml:"vectors"`
}

// LoadFile reads a YAML stain catalog.
func LoadFile(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading stain catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML stain catalog. Each entry needs a name and one
// to three vectors of three components.
func ParseCatalog(data []byte) (Map, error) {
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("error parsing stain catalog: %w", err)
	}

	m := make(Map, len(cf.Stains))
	for i, e := range cf.Stains {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: catalog entry %d has no name", stain.ErrInvalidStainSpec, i)
		}
		if len(e.Vectors) == 0 || len(e.Vectors) > 3 {
			return nil, fmt.Errorf("%w: %q: expected 1 to 3 vectors, got %d", stain.ErrInvalidStainSpec, e.Name, len(e.Vectors))
		}

		var set stain.VectorSet
		for j, v := range e.Vectors {
			if len(v) != 3 {
				return nil, fmt.Errorf("%w: %q vector %d: expected 3 components, got %d", stain.ErrInvalidStainSpec, e.Name, j+1, len(v))
			}
			copy(set[j][:], v)
		}
		if err := set.Validate(); err != nil {
			return nil, fmt.Errorf("%q: %w", e.Name, err)
		}
		m[e.Name] = set
	}

	return m, nil
}

// SaveFile writes m as a YAML stain catalog. Trailing unset vectors are omitted.
func SaveFile(path string, m Map) error {
	var cf catalogFile
	for _, name := range m.Names() {
		set := m[name]
		n := 3
		for n > 1 && set[n-1].IsZero() {
			n--
		}
		entry := catalogEntry{Name: name}
		for i := 0; i < n; i++ {
			entry.Vectors = append(entry.Vectors, []float64{set[i][0], set[i][1], set[i][2]})
		}
		cf.Stains = append(cf.Stains, entry)
	}

	data, err := yaml.Marshal(&cf)
	if err != nil {
		return fmt.Errorf("error marshaling stain catalog: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating catalog directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing stain catalog: %w", err)
	}

	return nil
}
