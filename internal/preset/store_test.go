//go:build !(js && wasm)

package preset

import (
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/colordeconv/internal/stain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s, err := OpenStore(filepath.Join(t.TempDir(), "stains.db"))
	require.NoError(t, err)
	defer s.Close()

	masson := stain.VectorSet{{0.7995107, 0.5913521, 0.10528667}, {0.09997159, 0.73738605, 0.6680326}}
	require.NoError(t, s.Put("Masson", masson))

	got, err := s.Lookup("Masson")
	require.NoError(t, err)
	assert.Equal(t, masson, got)

	require.NoError(t, s.Import(Map{"A": {{1, 0, 0}}, "B": {{0, 1, 0}}}))
	assert.Equal(t, []string{"A", "B", "Masson"}, s.Names())

	require.NoError(t, s.Delete("A"))
	_, err = s.Lookup("A")
	require.ErrorIs(t, err, stain.ErrInvalidStainSpec)

	require.ErrorIs(t, s.Put("", masson), stain.ErrInvalidStainSpec)
	require.ErrorIs(t, s.Put("zero", stain.VectorSet{}), stain.ErrInvalidStainSpec)

	reg := Chain(s, Builtin())
	_, err = reg.Lookup("Masson")
	require.NoError(t, err)
}
