package model

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabetesml/pkg/errors"
)

// CheckMatrix rejects nil, empty and non-finite inputs and returns the shape.
func CheckMatrix(op string, X mat.Matrix) (rows, cols int, err error) {
	if X == nil {
		return 0, 0, errors.Wrapf(errors.ErrEmptyData, "%s: nil matrix", op)
	}
	rows, cols = X.Dims()
	if rows == 0 || cols == 0 {
		return 0, 0, errors.Wrapf(errors.ErrEmptyData, "%s", op)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := X.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, 0, errors.NewValueError(op, "input contains NaN or Inf")
			}
		}
	}
	return rows, cols, nil
}

// CheckXy validates X and checks that y has one label per row.
func CheckXy(op string, X mat.Matrix, y []float64) (rows, cols int, err error) {
	rows, cols, err = CheckMatrix(op, X)
	if err != nil {
		return 0, 0, err
	}
	if len(y) != rows {
		return 0, 0, errors.NewDimensionError(op, rows, len(y), 0)
	}
	return rows, cols, nil
}

// UniqueLabels returns the sorted distinct values of y.
func UniqueLabels(y []float64) []float64 {
	seen := make(map[float64]struct{}, 4)
	for _, v := range y {
		seen[v] = struct{}{}
	}
	out := make([]float64, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}

// RequireBinary returns the two sorted classes of y, or ErrSingleClass when
// y holds only one value.
func RequireBinary(op string, y []float64) ([]float64, error) {
	classes := UniqueLabels(y)
	switch {
	case len(classes) < 2:
		return nil, errors.Wrapf(errors.ErrSingleClass, "%s", op)
	case len(classes) > 2:
		return nil, errors.NewValueError(op, "only binary labels are supported")
	}
	return classes, nil
}
