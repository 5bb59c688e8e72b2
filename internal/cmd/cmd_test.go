package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/MeKo-Tech/colordeconv/internal/deconv"
	"github.com/MeKo-Tech/colordeconv/internal/imageio"
	"github.com/MeKo-Tech/colordeconv/internal/pipeline"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	rootCmd.SetOut(nil)
	return out.String(), err
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestCollectInputs(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.TIF"))
	touch(t, filepath.Join(dir, "a.png"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "nested", "c.png"))
	explicit := filepath.Join(t.TempDir(), "scan.raw")
	touch(t, explicit)

	got, err := collectInputs([]string{dir, explicit, filepath.Join(dir, "a.png")})
	require.NoError(t, err)

	want := []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.TIF"), explicit}
	assert.ElementsMatch(t, want, got)
	assert.IsIncreasing(t, got)

	_, err = collectInputs([]string{filepath.Join(dir, "missing.png")})
	assert.Error(t, err)
}

func TestCollectInputsBaseNameClash(t *testing.T) {
	a := filepath.Join(t.TempDir(), "x.png")
	b := filepath.Join(t.TempDir(), "x.png")
	c := filepath.Join(filepath.Dir(a), "x.tif")
	touch(t, a)
	touch(t, b)
	touch(t, c)

	_, err := collectInputs([]string{a, b})
	assert.ErrorContains(t, err, "would write the same outputs")

	_, err = collectInputs([]string{filepath.Dir(a)})
	assert.ErrorContains(t, err, "would write the same outputs", "x.png and x.tif in one directory")

	got, err := collectInputs([]string{b, a, a})
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestParseDepth(t *testing.T) {
	tests := []struct {
		bits    int
		want    deconv.Depth
		wantErr bool
	}{
		{bits: 8, want: deconv.Depth8},
		{bits: 16, want: deconv.Depth16},
		{bits: 12, wantErr: true},
		{bits: 0, wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseDepth(tt.bits)
		if tt.wantErr {
			assert.Error(t, err, "bits=%d", tt.bits)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestFieldImage(t *testing.T) {
	img := fieldImage([]float64{-3, 0.4, 127.5, 300}, 2, 2)
	assert.Equal(t, []uint8{0, 0, 128, 255}, img.Pix)
}

func TestOpenRegistry(t *testing.T) {
	dir := t.TempDir()
	catalog := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte(`stains:
  - name: H&E
    vectors:
      - [0.1, 0.2, 0.3]
  - name: Masson
    vectors:
      - [0.7995107, 0.5913521, 0.10528667]
      - [0.09997159, 0.73738605, 0.6680326]
`), 0o644))

	viper.Set("catalog", catalog)
	t.Cleanup(func() { viper.Set("catalog", "") })

	reg, closeFn, err := openRegistry()
	require.NoError(t, err)
	defer closeFn()

	set, err := reg.Lookup("H&E")
	require.NoError(t, err)
	assert.Equal(t, 0.1, set[0][0], "catalog shadows built-in presets")

	_, err = reg.Lookup("H DAB")
	assert.NoError(t, err)
	_, err = reg.Lookup("Giemsa")
	assert.NoError(t, err, "embedded catalog")
	assert.Contains(t, reg.Names(), "Masson")
}

func TestSynthSeparateExport(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	db := filepath.Join(dir, "stains.db")

	_, err := execute(t, "synth", "--output-dir", in, "--stain", "H DAB", "--width", "40", "--height", "30", "--seed", "7")
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(in, "specimen.png"))

	_, err = execute(t, "separate", in, "--output-dir", out, "--stain", "H DAB", "--stats", "--masks",
		"--archive", db, "--progress=false", "--workers", "2")
	require.NoError(t, err)
	for _, name := range []string{"specimen_stain1.png", "specimen_stain2.png", "specimen_stain3.png", "specimen_stain1_mask.png", "specimen_stats.json"} {
		assert.FileExists(t, filepath.Join(out, name))
	}

	data, err := os.ReadFile(filepath.Join(out, "specimen_stats.json"))
	require.NoError(t, err)
	var stats pipeline.Stats
	require.NoError(t, json.Unmarshal(data, &stats))
	assert.Equal(t, "H DAB", stats.Stain)
	assert.Equal(t, 40, stats.Width)
	assert.Len(t, stats.Coverage, 3)

	listing, err := execute(t, "export", db, "--list")
	require.NoError(t, err)
	assert.Contains(t, listing, "stain: H DAB")
	assert.Contains(t, listing, "specimen.png")

	exported := filepath.Join(dir, "exported")
	_, err = execute(t, "export", db, "--list=false", "--output-dir", exported)
	require.NoError(t, err)

	got, err := imageio.Load(filepath.Join(exported, "specimen_stain2.png"))
	require.NoError(t, err)
	want, err := imageio.Load(filepath.Join(out, "specimen_stain2.png"))
	require.NoError(t, err)
	assert.Equal(t, want.Planes8, got.Planes8)
}

func TestSeparateErrors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.MkdirAll(empty, 0o755))

	_, err := execute(t, "separate", empty, "--output-dir", dir, "--stain", "H&E", "--archive", "", "--stats=false", "--masks=false")
	assert.ErrorContains(t, err, "no images found")

	_, err = execute(t, "separate", empty, "--output-dir", dir, "--format", "gif")
	assert.Error(t, err)

	broken := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(broken, []byte("not an image"), 0o644))
	_, err = execute(t, "separate", broken, "--output-dir", dir, "--format", "png", "--progress=false")
	assert.ErrorContains(t, err, "1 of 1 images failed")

	_, err = execute(t, "separate", broken, "--output-dir", dir, "--allow-failures", "--progress=false")
	assert.NoError(t, err)
	_, err = execute(t, "separate", broken, "--output-dir", dir, "--allow-failures=false", "--progress=false")
	assert.Error(t, err)
}

// massonRow matches the imported "Masson" preset but not "Masson Trichrome".
var massonRow = regexp.MustCompile(`(?m)^Masson\s+\(`)

func TestPresetsCommand(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "catalog.db")
	catalog := filepath.Join(dir, "masson.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte(`stains:
  - name: Masson
    vectors:
      - [0.7995107, 0.5913521, 0.10528667]
`), 0o644))
	t.Cleanup(func() {
		_ = rootCmd.PersistentFlags().Set("catalog-db", "")
		_ = presetsCmd.Flags().Set("import", "")
		_ = presetsCmd.Flags().Set("export", "")
		_ = presetsCmd.Flags().Set("delete", "")
	})

	listing, err := execute(t, "presets")
	require.NoError(t, err)
	assert.Contains(t, listing, "H DAB")
	assert.Contains(t, listing, "FastRed FastBlue DAB")
	assert.Contains(t, listing, "Masson Trichrome")
	assert.NotRegexp(t, massonRow, listing)
	assert.Contains(t, listing, "ANGLE 1-2")
	assert.Regexp(t, `(?m)^CMY\s.*\s90\.0°\s*$`, listing)

	_, err = execute(t, "presets", "--import", catalog)
	assert.ErrorContains(t, err, "--catalog-db is required")

	listing, err = execute(t, "presets", "--import", catalog, "--catalog-db", db)
	require.NoError(t, err)
	assert.Regexp(t, massonRow, listing)

	exported := filepath.Join(dir, "all.yaml")
	_, err = execute(t, "presets", "--import", "", "--export", exported, "--catalog-db", db)
	require.NoError(t, err)
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: Masson\n")
	assert.Contains(t, string(data), "H&E")

	listing, err = execute(t, "presets", "--export", "", "--delete", "Masson", "--catalog-db", db)
	require.NoError(t, err)
	assert.NotRegexp(t, massonRow, listing)
}
