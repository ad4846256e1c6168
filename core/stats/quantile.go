// Package stats holds small statistics helpers that gonum does not provide
// in the exact form the pipeline needs.
package stats

import (
	"math"
	"sort"
)

// Quantile returns the p-quantile of x using linear interpolation between
// order statistics (Hyndman-Fan type 7, h = (n-1)p), the default of numpy
// and pandas. x is not modified. It returns NaN for empty x.
func Quantile(p float64, x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)
	return QuantileSorted(p, sorted)
}

// QuantileSorted is Quantile for already sorted input.
func QuantileSorted(p float64, sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 1:
		return sorted[n-1]
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo+1 >= n {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
