package similarity

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MinSeriesLen is the shortest history considered comparable.
const MinSeriesLen = 3

// Correlation returns |r| for two equally long numeric series. The second
// result is false when the series are not comparable or r is undefined
// (a constant series).
func Correlation(x, y []float64) (float64, bool) {
	if len(x) < MinSeriesLen || len(x) != len(y) {
		return 0, false
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return clamp01(math.Abs(r)), true
}
