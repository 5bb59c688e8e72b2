package deconv

import "math"

var log255 = math.Log(255.0)

// odTable caches opticalDensity for every 8-bit sample.
var odTable = func() [256]float64 {
	var t [256]float64
	for v := range t {
		t[v] = opticalDensity(float64(v))
	}
	return t
}()

// opticalDensity maps a transmitted intensity in [0, 255] to optical
// density: 255 gives ~0, 0 gives 255.
func opticalDensity(v float64) float64 {
	return -((255.0 * math.Log((v+1)/255.0)) / log255)
}

// transmittance is the inverse log transform of a stain sum, capped at 255.
func transmittance(s float64) float64 {
	out := math.Exp(-(s - 255.0) * log255 / 255.0)
	if out > 255 {
		out = 255
	}
	return out
}

// to8BitRange remaps x from [min, max] to [0, 255]. Values at or beyond the
// bounds saturate, so min == max never divides.
func to8BitRange(x, min, max uint16) float64 {
	if x <= min {
		return 0
	}
	if x >= max {
		return 255.0
	}
	return (float64(x) - float64(min)) / float64(max-min) * 255.0
}

// to16BitRange maps a reconstructed intensity in [0, 255] back onto
// [min, max], capped at 65535.
func to16BitRange(out float64, min, max uint16) float64 {
	out = out/255.0*float64(max-min) + float64(min)
	if out > 65535 {
		out = 65535
	}
	return out
}

// roundHalfUp rounds to the nearest integer with ties going up. NaN maps to 0.
func roundHalfUp(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Floor(x + 0.5)
}
