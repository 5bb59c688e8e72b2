package deconv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpticalDensity(t *testing.T) {
	assert.InDelta(t, 255.0, opticalDensity(0), 1e-9)
	assert.InDelta(t, 0.0, opticalDensity(254), 1e-9)
	assert.Less(t, opticalDensity(255), 0.0)

	for v := 0; v < 256; v++ {
		assert.Equal(t, opticalDensity(float64(v)), odTable[v])
	}
}

func TestTransmittance(t *testing.T) {
	assert.InDelta(t, 1.0, transmittance(255), 1e-9)
	assert.Equal(t, 255.0, transmittance(-10), "capped")

	// transmittance undoes opticalDensity up to the +1 offset
	for _, v := range []float64{0, 17, 128, 254} {
		assert.InDelta(t, v+1, transmittance(opticalDensity(v)), 1e-9)
	}
}

func TestRangeRemap(t *testing.T) {
	assert.Equal(t, 0.0, to8BitRange(5, 10, 20))
	assert.Equal(t, 0.0, to8BitRange(10, 10, 20))
	assert.Equal(t, 255.0, to8BitRange(20, 10, 20))
	assert.Equal(t, 255.0, to8BitRange(60000, 10, 20))
	assert.InDelta(t, 127.5, to8BitRange(15, 10, 20), 1e-9)

	assert.Equal(t, 0.0, to8BitRange(7, 7, 7))
	assert.Equal(t, 255.0, to8BitRange(8, 7, 7))

	assert.Equal(t, 65535.0, to16BitRange(255, 0, 65535))
	assert.Equal(t, 20.0, to16BitRange(255, 10, 20))
	assert.Equal(t, 10.0, to16BitRange(0, 10, 20))
	assert.Equal(t, 7.0, to16BitRange(123, 7, 7))
}

func TestRoundHalfUp(t *testing.T) {
	assert.Equal(t, 3.0, roundHalfUp(2.5))
	assert.Equal(t, 2.0, roundHalfUp(2.49))
	assert.Equal(t, 0.0, roundHalfUp(math.NaN()))
}
