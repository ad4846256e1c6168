package model

import (
	"maps"
	"slices"

	"github.com/YuminosukeSato/diabetesml/pkg/errors"
)

// Summary describes a trained model for the run report.
type Summary struct {
	// ModelType is the estimator name, e.g. "GradientBoostingClassifier".
	ModelType string `json:"model_type"`

	Hyperparameters map[string]interface{} `json:"hyperparameters"`

	// Metrics holds held-out scores keyed by metric name.
	Metrics map[string]float64 `json:"metrics"`

	// FeatureImportances is omitted for models without importances.
	FeatureImportances []float64 `json:"feature_importances,omitempty"`

	IsFitted bool `json:"is_fitted"`
}

// NewSummary collects the type name and hyperparameters of c.
func NewSummary(name string, c Classifier) *Summary {
	s := &Summary{
		ModelType: name,
		Metrics:   make(map[string]float64),
	}
	if pg, ok := c.(ParameterGetter); ok {
		s.Hyperparameters = pg.GetParams()
	}
	if s.Hyperparameters == nil {
		s.Hyperparameters = make(map[string]interface{})
	}
	if fi, ok := c.(FeatureImportancer); ok {
		if imp, err := fi.FeatureImportances(); err == nil {
			s.FeatureImportances = imp
			s.IsFitted = true
		}
	}
	if len(c.Classes()) > 0 {
		s.IsFitted = true
	}
	return s
}

// Validate checks the summary is complete enough to report.
func (s *Summary) Validate() error {
	if s.ModelType == "" {
		return errors.NewValidationError("model_type", "is required", s.ModelType)
	}
	if !s.IsFitted && len(s.Metrics) > 0 {
		return errors.NewValidationError("metrics", "unfitted model cannot have metrics", len(s.Metrics))
	}
	return nil
}

// Clone returns a deep copy.
func (s *Summary) Clone() *Summary {
	return &Summary{
		ModelType:          s.ModelType,
		Hyperparameters:    maps.Clone(s.Hyperparameters),
		Metrics:            maps.Clone(s.Metrics),
		FeatureImportances: slices.Clone(s.FeatureImportances),
		IsFitted:           s.IsFitted,
	}
}
