// Package analysis summarises separations and stain bases.
package analysis

import (
	"math"
	"sort"

	"github.com/MeKo-Tech/colordeconv/internal/deconv"
	"github.com/MeKo-Tech/colordeconv/internal/stain"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// StainedThreshold is the fraction of a separation's [Min, Max] range below
// which a pixel counts as stained.
const StainedThreshold = 0.9

// ChannelStats describes one stain image, in units of its bit depth.
type ChannelStats struct {
	Stain           int     `json:"stain"`
	Mean            float64 `json:"mean"`
	StdDev          float64 `json:"std_dev"`
	Median          float64 `json:"median"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	StainedFraction float64 `json:"stained_fraction"`
}

// Summarize computes statistics for each of the three stain images. A
// separation whose range collapsed (Min == Max) has no stained pixels.
func Summarize(sep *deconv.Separation) []ChannelStats {
	out := make([]ChannelStats, 3)
	limit := sep.Level(StainedThreshold)
	if sep.Max <= sep.Min {
		limit = math.Inf(-1)
	}

	for k := range out {
		values := samples(sep, k)
		mean, std := stat.MeanStdDev(values, nil)
		sort.Float64s(values)

		stained := sort.SearchFloat64s(values, limit)
		out[k] = ChannelStats{
			Stain:           k + 1,
			Mean:            mean,
			StdDev:          std,
			Median:          stat.Quantile(0.5, stat.Empirical, values, nil),
			Min:             values[0],
			Max:             values[len(values)-1],
			StainedFraction: float64(stained) / float64(len(values)),
		}
		if math.IsNaN(out[k].StdDev) {
			out[k].StdDev = 0
		}
	}
	return out
}

func samples(sep *deconv.Separation, k int) []float64 {
	n := sep.Width * sep.Height
	values := make([]float64, n)
	if g := sep.Gray16(k); g != nil {
		for i := range values {
			values[i] = float64(uint16(g.Pix[i*2])<<8 | uint16(g.Pix[i*2+1]))
		}
		return values
	}
	g := sep.Gray(k)
	for i := range values {
		values[i] = float64(g.Pix[i])
	}
	return values
}

// Condition returns the 2-norm condition number of the basis. Large values
// mean the stains are close to collinear and the separation amplifies noise.
func Condition(b stain.Basis) float64 {
	a := mat.NewDense(3, 3, []float64{
		b[0][0], b[0][1], b[0][2],
		b[1][0], b[1][1], b[1][2],
		b[2][0], b[2][1], b[2][2],
	})
	return mat.Cond(a, 2)
}

// Angle returns the angle in degrees between two stain vectors. Stains less
// than a few degrees apart cannot be told apart reliably.
func Angle(a, b stain.Vector) float64 {
	va := mat.NewVecDense(3, []float64{a[0], a[1], a[2]})
	vb := mat.NewVecDense(3, []float64{b[0], b[1], b[2]})
	cos := mat.Dot(va, vb) / (mat.Norm(va, 2) * mat.Norm(vb, 2))
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi
}
