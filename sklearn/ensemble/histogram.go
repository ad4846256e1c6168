package ensemble

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// maxBins bounds the histogram size per feature so bin indices fit a byte.
const maxBins = 256

// binMapper holds the cut points of every feature. A value v falls in bin i
// where i is the first cut with v <= cut, or len(cuts) past the last one.
type binMapper struct {
	cuts [][]float64
}

// newBinMapper derives at most nBins bins per feature. Features with few
// distinct values get one bin per value, others equal-frequency bins over
// the distinct values, with cuts halfway between neighbouring values.
func newBinMapper(X *mat.Dense, nBins int) *binMapper {
	if nBins < 2 || nBins > maxBins {
		nBins = maxBins
	}
	r, c := X.Dims()
	m := &binMapper{cuts: make([][]float64, c)}
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		m.cuts[j] = findCuts(col, nBins)
	}
	return m
}

func findCuts(values []float64, nBins int) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	unique := sorted[:0:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			unique = append(unique, v)
		}
	}
	if len(unique) <= 1 {
		return nil
	}

	if len(unique) <= nBins {
		cuts := make([]float64, len(unique)-1)
		for i := 1; i < len(unique); i++ {
			cuts[i-1] = (unique[i-1] + unique[i]) / 2
		}
		return cuts
	}

	cuts := make([]float64, 0, nBins-1)
	for k := 1; k < nBins; k++ {
		i := k * len(unique) / nBins
		cut := (unique[i-1] + unique[i]) / 2
		if len(cuts) == 0 || cut > cuts[len(cuts)-1] {
			cuts = append(cuts, cut)
		}
	}
	return cuts
}

// numBins returns the number of bins of feature j.
func (m *binMapper) numBins(j int) int { return len(m.cuts[j]) + 1 }

// bin maps a value of feature j to its bin.
func (m *binMapper) bin(j int, v float64) int {
	return sort.SearchFloat64s(m.cuts[j], v)
}

// threshold returns the raw-value threshold separating bin b from bin b+1.
func (m *binMapper) threshold(j, b int) float64 { return m.cuts[j][b] }

// transform bins X column by column.
func (m *binMapper) transform(X *mat.Dense) [][]uint8 {
	r, c := X.Dims()
	bins := make([][]uint8, c)
	for j := 0; j < c; j++ {
		bins[j] = make([]uint8, r)
		for i := 0; i < r; i++ {
			bins[j][i] = uint8(m.bin(j, X.At(i, j)))
		}
	}
	return bins
}

// histogram accumulates gradient statistics per bin.
type histogram struct {
	grad  []float64
	hess  []float64
	count []int
}

func buildHistogram(bins []uint8, nBins int, rows []int, grad, hess []float64) histogram {
	h := histogram{
		grad:  make([]float64, nBins),
		hess:  make([]float64, nBins),
		count: make([]int, nBins),
	}
	for _, i := range rows {
		b := bins[i]
		h.grad[b] += grad[i]
		h.hess[b] += hess[i]
		h.count[b]++
	}
	return h
}
