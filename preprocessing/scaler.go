// Package preprocessing holds the table cleaning steps and feature scaling.
package preprocessing

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/diabetesml/core/model"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
)

// minStd is the largest standard deviation still treated as zero. Columns
// with a spread at or below it are only centred.
const minStd = 1e-8

func effectiveScale(std float64) float64 {
	if std > minStd {
		return std
	}
	return 1
}

// StandardScaler standardizes features to zero mean and unit variance, like
// scikit-learn's StandardScaler. It holds configuration only; Fit returns a
// ScalerState that carries the learned statistics.
//
//	state, err := preprocessing.NewStandardScalerDefault().Fit(XTrain)
//	XTrainScaled, err := state.Transform(XTrain)
//	XTestScaled, err := state.Transform(XTest)
type StandardScaler struct {
	// WithMean subtracts the column mean (default: true).
	WithMean bool

	// WithStd divides by the column population standard deviation (default: true).
	WithStd bool
}

var _ model.FittableTransform[*ScalerState] = (*StandardScaler)(nil)

// NewStandardScaler creates a StandardScaler.
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{
		WithMean: withMean,
		WithStd:  withStd,
	}
}

// NewStandardScalerDefault centres and scales.
func NewStandardScalerDefault() *StandardScaler {
	return NewStandardScaler(true, true)
}

// Fit computes per-column mean and population standard deviation. A column
// whose deviation is at most 1e-8 gets an effective scale of 1.
func (s *StandardScaler) Fit(X mat.Matrix) (*ScalerState, error) {
	r, c, err := model.CheckMatrix("StandardScaler.Fit", X)
	if err != nil {
		return nil, errors.NewModelError("StandardScaler.Fit", "invalid input", err)
	}

	state := &ScalerState{
		Mean:      make([]float64, c),
		Scale:     make([]float64, c),
		NFeatures: c,
		NSamples:  r,
	}
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		mean, std := stat.PopMeanStdDev(col, nil)
		if s.WithMean {
			state.Mean[j] = mean
		}
		state.Scale[j] = 1
		if s.WithStd {
			state.Scale[j] = effectiveScale(std)
		}
	}
	return state, nil
}

// GetParams returns the scaler configuration.
func (s *StandardScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"with_mean": s.WithMean,
		"with_std":  s.WithStd,
	}
}

// ScalerState is a fitted StandardScaler. It is never modified after Fit.
type ScalerState struct {
	Mean  []float64
	Scale []float64

	NFeatures int
	NSamples  int
}

// Transform applies (x - mean) / scale column by column.
func (s *ScalerState) Transform(X mat.Matrix) (*mat.Dense, error) {
	r, c := X.Dims()
	if c != s.NFeatures {
		return nil, errors.NewDimensionError("StandardScaler.Transform", s.NFeatures, c, 1)
	}
	if r == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "StandardScaler.Transform")
	}
	result := mat.NewDense(r, c, nil)
	result.Apply(func(_, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, X)
	return result, nil
}

// InverseTransform maps standardized data back to the original units.
func (s *ScalerState) InverseTransform(X mat.Matrix) (*mat.Dense, error) {
	r, c := X.Dims()
	if c != s.NFeatures {
		return nil, errors.NewDimensionError("StandardScaler.InverseTransform", s.NFeatures, c, 1)
	}
	if r == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "StandardScaler.InverseTransform")
	}
	result := mat.NewDense(r, c, nil)
	result.Apply(func(_, j int, v float64) float64 {
		return v*s.Scale[j] + s.Mean[j]
	}, X)
	return result, nil
}

// String returns a short description.
func (s *ScalerState) String() string {
	return fmt.Sprintf("ScalerState(n_features=%d, n_samples=%d)", s.NFeatures, s.NSamples)
}
