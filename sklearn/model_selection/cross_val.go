package model_selection

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/diabetesml/core/model"
	"github.com/YuminosukeSato/diabetesml/core/parallel"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
)

// ClassifierFactory builds a fresh, unfitted classifier for each fold.
type ClassifierFactory func() (model.Classifier, error)

// ScoreFunc scores predictions against true labels; higher is better.
type ScoreFunc func(yTrue, yPred []float64) (float64, error)

// CVResult holds the per-fold test scores in fold order.
type CVResult struct {
	TestScores []float64
}

// GetMeanScore returns the mean fold score.
func (cv *CVResult) GetMeanScore() float64 {
	if len(cv.TestScores) == 0 {
		return math.NaN()
	}
	return stat.Mean(cv.TestScores, nil)
}

// GetStdScore returns the sample standard deviation of the fold scores.
func (cv *CVResult) GetStdScore() float64 {
	if len(cv.TestScores) <= 1 {
		return 0
	}
	return stat.StdDev(cv.TestScores, nil)
}

// CrossValScore fits a new classifier on the training part of every fold
// and scores it on the held-out part. Folds run on up to workers goroutines;
// scores are stored by fold index so the result does not depend on timing.
func CrossValScore(ctx context.Context, newModel ClassifierFactory, X mat.Matrix, y []float64,
	splitter Splitter, score ScoreFunc, workers int) (*CVResult, error) {

	if _, _, err := model.CheckXy("CrossValScore", X, y); err != nil {
		return nil, err
	}
	folds, err := splitter.Split(y)
	if err != nil {
		return nil, err
	}

	result := &CVResult{TestScores: make([]float64, len(folds))}
	err = parallel.ForEach(ctx, len(folds), workers, func(_ context.Context, idx int) error {
		fold := folds[idx]
		clf, err := newModel()
		if err != nil {
			return err
		}
		if err := clf.Fit(TakeRows(X, fold.TrainIndices), TakeLabels(y, fold.TrainIndices)); err != nil {
			return errors.Wrapf(err, "fold %d training failed", idx)
		}
		pred, err := clf.Predict(TakeRows(X, fold.TestIndices))
		if err != nil {
			return errors.Wrapf(err, "fold %d prediction failed", idx)
		}
		s, err := score(TakeLabels(y, fold.TestIndices), pred)
		if err != nil {
			return errors.Wrapf(err, "fold %d scoring failed", idx)
		}
		result.TestScores[idx] = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
