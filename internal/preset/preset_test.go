package preset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/colordeconv/internal/stain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinNames(t *testing.T) {
	want := []string{
		"H&E", "H&E MINERVA", "H&E 2", "H DAB", "FastRed FastBlue DAB",
		"Methyl Green DAB", "H&E DAB", "H AEC", "Azan-Mallory",
		"Alcian blue & H", "H PAS", "RGB", "CMY",
	}
	assert.Equal(t, want, Builtin().Names())
}

func TestBuiltinVectors(t *testing.T) {
	tests := []struct {
		name string
		want stain.VectorSet
	}{
		{"H&E", stain.VectorSet{{0.644211, 0.716556, 0.266844}, {0.092789, 0.954111, 0.283111}, {}}},
		{"H&E MINERVA", stain.VectorSet{{0.581623, 0.67548984, 0.45324185}, {0.16757342, 0.85218674, 0.49567825}, {}}},
		{"H&E 2", stain.VectorSet{{0.650, 0.704, 0.286}, {0.072, 0.990, 0.105}, {}}},
		{"H DAB", stain.VectorSet{{0.650, 0.704, 0.286}, {0.268, 0.570, 0.776}, {}}},
		{"FastRed FastBlue DAB", stain.VectorSet{{0.21393921, 0.85112669, 0.47794022}, {0.74890292, 0.60624161, 0.26731082}, {0.268, 0.570, 0.776}}},
		{"Methyl Green DAB", stain.VectorSet{{0.98003, 0.144316, 0.133146}, {0.268, 0.570, 0.776}, {}}},
		{"H&E DAB", stain.VectorSet{{0.650, 0.704, 0.286}, {0.072, 0.990, 0.105}, {0.268, 0.570, 0.776}}},
		{"H AEC", stain.VectorSet{{0.650, 0.704, 0.286}, {0.2743, 0.6796, 0.6803}, {}}},
		{"Azan-Mallory", stain.VectorSet{{0.853033, 0.508733, 0.112656}, {0.070933, 0.977311, 0.198067}, {}}},
		{"Alcian blue & H", stain.VectorSet{{0.874622, 0.457711, 0.158256}, {0.552556, 0.7544, 0.353744}, {}}},
		{"H PAS", stain.VectorSet{{0.644211, 0.716556, 0.266844}, {0.175411, 0.972178, 0.154589}, {}}},
		{"RGB", stain.VectorSet{{0, 1, 1}, {1, 0, 1}, {1, 1, 0}}},
		{"CMY", stain.VectorSet{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}},
	}

	reg := Builtin()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Lookup(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			_, err = stain.Build(got)
			require.NoError(t, err, "every shipped preset must build")
		})
	}
}

func TestBuiltinAliases(t *testing.T) {
	reg := Builtin()
	for alias, canonical := range map[string]string{"HE": "H&E", "HE MINERVA": "H&E MINERVA", "HE 2": "H&E 2"} {
		a, err := reg.Lookup(alias)
		require.NoError(t, err)
		c, err := reg.Lookup(canonical)
		require.NoError(t, err)
		assert.Equal(t, c, a, alias)
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Builtin().Lookup("Giemsa")
	require.ErrorIs(t, err, stain.ErrInvalidStainSpec)

	_, err = Map{}.Lookup("Giemsa")
	require.ErrorIs(t, err, stain.ErrInvalidStainSpec)
}

func TestChain(t *testing.T) {
	custom := Map{
		"H&E":    {{1, 0, 0}},
		"Masson": {{0.7995107, 0.5913521, 0.10528667}, {0.09997159, 0.73738605, 0.6680326}},
	}
	reg := Chain(custom, nil, Builtin())

	got, err := reg.Lookup("H&E")
	require.NoError(t, err)
	assert.Equal(t, stain.VectorSet{{1, 0, 0}}, got, "earlier registry shadows built-in")

	_, err = reg.Lookup("H DAB")
	require.NoError(t, err)

	_, err = reg.Lookup("nope")
	require.ErrorIs(t, err, stain.ErrInvalidStainSpec)

	names := reg.Names()
	assert.Equal(t, []string{"H&E", "Masson"}, names[:2])
	assert.Len(t, names, 2+12)
}

func TestResolve(t *testing.T) {
	set, err := Resolve(nil, "RGB")
	require.NoError(t, err)
	assert.Equal(t, stain.Vector{0, 1, 1}, set[0])

	set, err = Resolve(Builtin(), "1,0,0;0,1,0")
	require.NoError(t, err)
	assert.Equal(t, stain.VectorSet{{1, 0, 0}, {0, 1, 0}, {}}, set)

	_, err = Resolve(Builtin(), "unknown stain")
	require.ErrorIs(t, err, stain.ErrInvalidStainSpec)
}

func TestCatalogFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "stains.yaml")
	m := Map{
		"Masson": {{0.7995107, 0.5913521, 0.10528667}, {0.09997159, 0.73738605, 0.6680326}},
		"Single": {{0.3, 0.4, 0.5}},
	}

	require.NoError(t, SaveFile(path, m))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)
}

func TestParseCatalogErrors(t *testing.T) {
	tests := map[string]string{
		"missing name": "stains:\n  - vectors: [[1, 0, 0]]\n",
		"no vectors":   "stains:\n  - name: a\n",
		"short vector": "stains:\n  - name: a\n    vectors: [[1, 0]]\n",
		"four vectors": "stains:\n  - name: a\n    vectors: [[1,0,0],[0,1,0],[0,0,1],[1,1,1]]\n",
		"zero first":   "stains:\n  - name: a\n    vectors: [[0,0,0],[0,1,0]]\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			require.ErrorIs(t, err, stain.ErrInvalidStainSpec)
		})
	}

	_, err := ParseCatalog([]byte("stains: [oops"))
	require.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
