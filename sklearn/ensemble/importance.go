package ensemble

import (
	"sort"

	"github.com/YuminosukeSato/diabetesml/pkg/errors"
)

// FeatureImportance pairs a feature name with its importance.
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// RankImportances orders features by descending importance. Equal
// importances keep column order.
func RankImportances(names []string, importances []float64) ([]FeatureImportance, error) {
	if len(names) != len(importances) {
		return nil, errors.NewDimensionError("RankImportances", len(names), len(importances), 0)
	}
	ranked := make([]FeatureImportance, len(names))
	for i, name := range names {
		ranked[i] = FeatureImportance{Feature: name, Importance: importances[i]}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Importance > ranked[b].Importance
	})
	return ranked, nil
}
