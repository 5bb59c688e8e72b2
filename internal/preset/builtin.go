package preset

import "github.com/MeKo-Tech/colordeconv/internal/stain"

var (
	glHaem     = stain.Vector{0.644211, 0.716556, 0.266844}
	ruifrokH   = stain.Vector{0.650, 0.704, 0.286}
	ruifrokE   = stain.Vector{0.072, 0.990, 0.105}
	dab        = stain.Vector{0.268, 0.570, 0.776}
	unsetStain = stain.Vector{}
)

type builtinEntry struct {
	name    string
	aliases []string
	set     stain.VectorSet
}

// builtinEntries is the shipped catalog. Values come from Ruifrok & Johnston
// (2001) and from vectors measured by G. Landini (GL).
var builtinEntries = []builtinEntry{
	{
		name:    "H&E",
		aliases: []string{"HE"},
		set:     stain.VectorSet{glHaem, {0.092789, 0.954111, 0.283111}, unsetStain},
	},
	{
		name:    "H&E MINERVA",
		aliases: []string{"HE MINERVA"},
		set:     stain.VectorSet{{0.581623, 0.67548984, 0.45324185}, {0.16757342, 0.85218674, 0.49567825}, unsetStain},
	},
	{
		name:    "H&E 2",
		aliases: []string{"HE 2"},
		set:     stain.VectorSet{ruifrokH, ruifrokE, unsetStain},
	},
	{
		name: "H DAB",
		set:  stain.VectorSet{ruifrokH, dab, unsetStain},
	},
	{
		name: "FastRed FastBlue DAB",
		set:  stain.VectorSet{{0.21393921, 0.85112669, 0.47794022}, {0.74890292, 0.60624161, 0.26731082}, dab},
	},
	{
		name: "Methyl Green DAB",
		set:  stain.VectorSet{{0.98003, 0.144316, 0.133146}, dab, unsetStain},
	},
	{
		name: "H&E DAB",
		set:  stain.VectorSet{ruifrokH, ruifrokE, dab},
	},
	{
		name: "H AEC",
		set:  stain.VectorSet{ruifrokH, {0.2743, 0.6796, 0.6803}, unsetStain},
	},
	{
		// orange (third stain) has no measured vector yet
		name: "Azan-Mallory",
		set:  stain.VectorSet{{0.853033, 0.508733, 0.112656}, {0.070933, 0.977311, 0.198067}, unsetStain},
	},
	{
		name: "Alcian blue & H",
		set:  stain.VectorSet{{0.874622, 0.457711, 0.158256}, {0.552556, 0.7544, 0.353744}, unsetStain},
	},
	{
		name: "H PAS",
		set:  stain.VectorSet{glHaem, {0.175411, 0.972178, 0.154589}, unsetStain},
	},
	{
		name: "RGB",
		set:  stain.VectorSet{{0, 1, 1}, {1, 0, 1}, {1, 1, 0}},
	},
	{
		name: "CMY",
		set:  stain.VectorSet{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	},
}

type builtin struct {
	byName map[string]int
	names  []string
}

var builtinRegistry = newBuiltin()

func newBuiltin() *builtin {
	b := &builtin{byName: make(map[string]int)}
	for i, e := range builtinEntries {
		b.byName[e.name] = i
		for _, a := range e.aliases {
			b.byName[a] = i
		}
		b.names = append(b.names, e.name)
	}
	return b
}

// Builtin returns the shipped preset catalog, including the legacy "HE"
// spellings of the H&E presets.
func Builtin() Registry {
	return builtinRegistry
}

func (b *builtin) Lookup(name string) (stain.VectorSet, error) {
	i, ok := b.byName[name]
	if !ok {
		return stain.VectorSet{}, unknown(name)
	}
	return builtinEntries[i].set, nil
}

// Names returns the canonical preset names in catalog order.
func (b *builtin) Names() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}
