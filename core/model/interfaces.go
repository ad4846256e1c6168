package model

import (
	"gonum.org/v1/gonum/mat"
)

// Classifier is a supervised model over numeric class labels.
type Classifier interface {
	// Fit trains on X (n_samples x n_features) and labels y.
	Fit(X mat.Matrix, y []float64) error

	// Predict returns one label per row of X.
	Predict(X mat.Matrix) ([]float64, error)

	// PredictProba returns an n_samples x n_classes matrix whose columns
	// follow Classes().
	PredictProba(X mat.Matrix) (*mat.Dense, error)

	// Classes returns the sorted labels seen during Fit.
	Classes() []float64
}

// Resampler rebalances a labelled dataset.
type Resampler interface {
	FitResample(X mat.Matrix, y []float64) (*mat.Dense, []float64, error)
}

// FeatureImportancer is implemented by models that rank their inputs.
type FeatureImportancer interface {
	FeatureImportances() ([]float64, error)
}

// ParameterGetter exposes hyperparameters for reporting.
type ParameterGetter interface {
	GetParams() map[string]interface{}
}
