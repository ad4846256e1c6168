// Package model_selection provides train/test splitting and cross-validation.
package model_selection

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabetesml/core/model"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
)

// Split is the result of TrainTestSplit. TrainIndices and TestIndices are
// the source rows of each side, in the order they appear in the matrices.
type Split struct {
	XTrain, XTest *mat.Dense
	YTrain, YTest []float64

	TrainIndices []int
	TestIndices  []int
}

// TrainTestSplit shuffles the rows with a generator seeded by seed and puts
// the first ceil(testSize*n) of them in the test set. The split is not
// stratified and is identical for identical inputs and seed.
func TrainTestSplit(X mat.Matrix, y []float64, testSize float64, seed int64) (*Split, error) {
	n, _, err := model.CheckXy("TrainTestSplit", X, y)
	if err != nil {
		return nil, err
	}
	if !(testSize > 0 && testSize < 1) {
		return nil, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest
	if nTest == 0 || nTrain == 0 {
		return nil, errors.NewValueError("TrainTestSplit",
			"test_size leaves one side of the split empty")
	}

	perm := Permutation(n, seed)
	s := &Split{
		TestIndices:  perm[:nTest],
		TrainIndices: perm[nTest:],
	}
	s.XTrain = TakeRows(X, s.TrainIndices)
	s.XTest = TakeRows(X, s.TestIndices)
	s.YTrain = TakeLabels(y, s.TrainIndices)
	s.YTest = TakeLabels(y, s.TestIndices)
	return s, nil
}

// Permutation returns a seeded random permutation of [0, n).
func Permutation(n int, seed int64) []int {
	r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	return r.Perm(n)
}

// TakeRows copies the given rows of X, in order, into a new matrix.
func TakeRows(X mat.Matrix, indices []int) *mat.Dense {
	_, c := X.Dims()
	if len(indices) == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(len(indices), c, nil)
	if d, ok := X.(mat.RawRowViewer); ok {
		for i, idx := range indices {
			out.SetRow(i, d.RawRowView(idx))
		}
		return out
	}
	for i, idx := range indices {
		for j := 0; j < c; j++ {
			out.Set(i, j, X.At(idx, j))
		}
	}
	return out
}

// TakeLabels copies the given entries of y, in order.
func TakeLabels(y []float64, indices []int) []float64 {
	out := make([]float64, len(indices))
	for i, idx := range indices {
		out[i] = y[idx]
	}
	return out
}
