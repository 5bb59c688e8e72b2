// Package preset resolves named stain vector sets.
package preset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MeKo-Tech/colordeconv/internal/stain"
)

// Registry maps a preset name to its raw stain vectors.
type Registry interface {
	Lookup(name string) (stain.VectorSet, error)
	Names() []string
}

// Map is an in-memory Registry.
type Map map[string]stain.VectorSet

// Lookup returns the vectors registered under name.
func (m Map) Lookup(name string) (stain.VectorSet, error) {
	set, ok := m[name]
	if !ok {
		return stain.VectorSet{}, unknown(name)
	}
	return set, nil
}

// Names returns the registered names in sorted order.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type chain []Registry

// Chain consults each registry in order and returns the first match.
// Earlier registries shadow later ones.
func Chain(regs ...Registry) Registry {
	var c chain
	for _, r := range regs {
		if r != nil {
			c = append(c, r)
		}
	}
	return c
}

func (c chain) Lookup(name string) (stain.VectorSet, error) {
	for _, r := range c {
		if set, err := r.Lookup(name); err == nil {
			return set, nil
		}
	}
	return stain.VectorSet{}, unknown(name)
}

func (c chain) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range c {
		for _, n := range r.Names() {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

// Resolve turns a stain spec into a vector set. A spec containing a comma is
// parsed as explicit vectors ("x,y,z;x,y,z;x,y,z"); anything else is a preset
// name looked up in reg.
func Resolve(reg Registry, spec string) (stain.VectorSet, error) {
	if strings.Contains(spec, ",") {
		return stain.ParseVectors(spec)
	}
	if reg == nil {
		reg = Builtin()
	}
	set, err := reg.Lookup(spec)
	if err != nil {
		return stain.VectorSet{}, err
	}
	return set, nil
}

func unknown(name string) error {
	return fmt.Errorf("%w: unknown preset %q", stain.ErrInvalidStainSpec, name)
}
