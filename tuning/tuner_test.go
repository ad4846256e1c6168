package tuning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabetesml/optimize/bayesopt"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
	"github.com/YuminosukeSato/diabetesml/sklearn/ensemble"
)

func quiet() (Option, ensemble.GBOption) {
	logger, _ := log.NewTestLogger(log.LevelError)
	return WithLogger(logger), ensemble.WithGBLogger(logger)
}

func smallBounds(t *testing.T) *bayesopt.Bounds {
	t.Helper()
	b, err := bayesopt.NewBounds(
		bayesopt.Dimension{Name: ParamNEstimators, Lo: 3, Hi: 8},
		bayesopt.Dimension{Name: ParamMaxDepth, Lo: 1, Hi: 3},
		bayesopt.Dimension{Name: ParamLearningRate, Lo: 0.1, Hi: 0.5},
		bayesopt.Dimension{Name: ParamSubsample, Lo: 0.6, Hi: 1.0},
		bayesopt.Dimension{Name: ParamColsampleByTree, Lo: 0.6, Hi: 1.0},
	)
	require.NoError(t, err)
	return b
}

func data() (*mat.Dense, []float64) {
	n := 60
	X := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i%20))
		X.Set(i, 1, float64((i*7)%11))
		if i%20 >= 10 {
			y[i] = 1
		}
	}
	return X, y
}

func TestRoundParams(t *testing.T) {
	bp := RoundParams(bayesopt.Params{
		ParamNEstimators:     150.5,
		ParamMaxDepth:        3.49,
		ParamLearningRate:    0.05,
		ParamSubsample:       0.8,
		ParamColsampleByTree: 0.7,
	})
	assert.Equal(t, 151, bp.NEstimators)
	assert.Equal(t, 3, bp.MaxDepth)
	assert.Equal(t, 0.05, bp.LearningRate)
	assert.Len(t, bp.Options(), 5)
	assert.Contains(t, bp.String(), "n_estimators=151")
}

func TestDefaultBounds(t *testing.T) {
	b := DefaultBounds()
	dims := b.Dimensions()
	require.Len(t, dims, 5)
	assert.Equal(t, bayesopt.Dimension{Name: ParamNEstimators, Lo: 100, Hi: 300}, dims[0])
	assert.Equal(t, bayesopt.Dimension{Name: ParamMaxDepth, Lo: 3, Hi: 10}, dims[1])
	assert.Equal(t, bayesopt.Dimension{Name: ParamLearningRate, Lo: 0.01, Hi: 0.2}, dims[2])
}

func TestTunerRunsExactBudget(t *testing.T) {
	X, y := data()
	logOpt, gbLog := quiet()
	tuner := NewTuner(
		WithBounds(smallBounds(t)),
		WithInitPoints(2),
		WithNIter(3),
		WithCandidates(200),
		WithSeed(42),
		WithBoosterOptions(gbLog),
		logOpt,
	)
	res, err := tuner.Tune(context.Background(), X, y)
	require.NoError(t, err)

	require.Len(t, res.History, 5)
	assert.Len(t, res.Scores(), 5)
	assert.Equal(t, 0, res.Failures)
	for _, h := range res.History {
		assert.GreaterOrEqual(t, res.Best.Target, h.Target)
		assert.GreaterOrEqual(t, h.Target, 0.0)
		assert.LessOrEqual(t, h.Target, 1.0)
	}
	assert.GreaterOrEqual(t, res.BestParams.NEstimators, 3)
	assert.LessOrEqual(t, res.BestParams.NEstimators, 8)
	assert.Equal(t, RoundParams(res.Best.Params), res.BestParams)

	final, err := tuner.FitFinal(res.BestParams, X, y)
	require.NoError(t, err)
	imp, err := final.FeatureImportances()
	require.NoError(t, err)
	assert.Len(t, imp, 2)
}

func TestTunerWithTPE(t *testing.T) {
	X, y := data()
	logOpt, gbLog := quiet()
	tuner := NewTuner(
		WithBounds(smallBounds(t)),
		WithOptimizer(bayesopt.KindTPE),
		WithInitPoints(2),
		WithNIter(3),
		WithSeed(42),
		WithBoosterOptions(gbLog),
		logOpt,
	)
	res, err := tuner.Tune(context.Background(), X, y)
	require.NoError(t, err)

	require.Len(t, res.History, 5)
	for _, h := range res.History {
		assert.GreaterOrEqual(t, res.Best.Target, h.Target)
	}
	assert.Equal(t, RoundParams(res.Best.Params), res.BestParams)

	_, err = NewTuner(WithOptimizer("grid"), logOpt).Tune(context.Background(), X, y)
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

// A box whose upper bound is not reachable as lo + 1*(hi-lo) in floating
// point must not reject points at the edge.
func TestTunerCustomBoundsEdge(t *testing.T) {
	X, y := data()
	logOpt, gbLog := quiet()
	b, err := bayesopt.NewBounds(
		bayesopt.Dimension{Name: ParamNEstimators, Lo: 3, Hi: 6},
		bayesopt.Dimension{Name: ParamMaxDepth, Lo: 1, Hi: 3},
		bayesopt.Dimension{Name: ParamLearningRate, Lo: 0.1, Hi: 0.7},
		bayesopt.Dimension{Name: ParamSubsample, Lo: 0.3, Hi: 0.9},
		bayesopt.Dimension{Name: ParamColsampleByTree, Lo: 0.3, Hi: 0.9},
	)
	require.NoError(t, err)
	tuner := NewTuner(
		WithBounds(b),
		WithInitPoints(2),
		WithNIter(4),
		WithCandidates(100),
		WithSeed(7),
		WithBoosterOptions(gbLog),
		logOpt,
	)
	res, err := tuner.Tune(context.Background(), X, y)
	require.NoError(t, err)
	assert.Len(t, res.History, 6)
	for _, h := range res.History {
		assert.True(t, b.Contains(h.Params))
	}
}

func TestTunerFailingFitsScoreSentinel(t *testing.T) {
	X, y := data()
	logOpt, gbLog := quiet()
	tuner := NewTuner(
		WithBounds(smallBounds(t)),
		WithInitPoints(2),
		WithNIter(1),
		WithCandidates(50),
		WithBoosterOptions(gbLog, ensemble.WithGBMaxBin(1)),
		logOpt,
	)
	res, err := tuner.Tune(context.Background(), X, y)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Failures)
	for _, h := range res.History {
		assert.Equal(t, FailureScore, h.Target)
	}
	// all tied: the first observation wins
	assert.Equal(t, 1, res.Best.Index)
}

func TestTunerEvaluate(t *testing.T) {
	X, y := data()
	logOpt, gbLog := quiet()
	tuner := NewTuner(WithBoosterOptions(gbLog), logOpt)
	score, err := tuner.Evaluate(context.Background(),
		BoosterParams{NEstimators: 5, MaxDepth: 2, LearningRate: 0.3, Subsample: 1, ColsampleByTree: 1}, X, y)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestTunerValidationAndCancel(t *testing.T) {
	X, y := data()
	logOpt, _ := quiet()

	_, err := NewTuner(WithCVFolds(1), logOpt).Tune(context.Background(), X, y)
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewTuner(WithBounds(smallBounds(t)), logOpt).Tune(ctx, X, y)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWeightedF1(t *testing.T) {
	f1, err := WeightedF1([]float64{0, 0, 1, 1}, []float64{0, 0, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, f1)
}
