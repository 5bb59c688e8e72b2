package stain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFields(t *testing.T) {
	fields := map[string]float64{
		"MODx_0": 0.644211, "MODy_0": 0.716556, "MODz_0": 0.266844,
		"MODx_1": 0.092789, "MODy_1": 0.954111, "MODz_1": 0.283111,
		"MODx_2": 0, "MODy_2": 0, "MODz_2": 0,
	}

	set, err := FromFields(fields)
	require.NoError(t, err)
	assert.Equal(t, haematoxylin, set[0])
	assert.Equal(t, eosin, set[1])
	assert.True(t, set[2].IsZero())

	assert.Equal(t, fields, set.Fields())
}

func TestFromFieldsMissing(t *testing.T) {
	_, err := FromFields(map[string]float64{"MODx_0": 1, "MODy_0": 0})
	require.ErrorIs(t, err, ErrInvalidStainSpec)
	assert.Contains(t, err.Error(), "MODz_0")
	assert.Contains(t, err.Error(), "MODz_2")
}

func TestParseVectors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    VectorSet
		wantErr bool
	}{
		{
			name:  "three vectors",
			input: "0,1,1;1,0,1;1,1,0",
			want:  VectorSet{{0, 1, 1}, {1, 0, 1}, {1, 1, 0}},
		},
		{
			name:  "single vector with spaces",
			input: " 0.65, 0.704, 0.286 ",
			want:  VectorSet{{0.65, 0.704, 0.286}},
		},
		{name: "empty", input: "", wantErr: true},
		{name: "too many vectors", input: "1,0,0;0,1,0;0,0,1;1,1,1", wantErr: true},
		{name: "two components", input: "1,0", wantErr: true},
		{name: "not a number", input: "a,b,c", wantErr: true},
		{name: "zero first vector", input: "0,0,0;1,0,0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVectors(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidStainSpec)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
