// Package tuning searches the gradient boosting hyperparameters with
// sequential model-based optimization over cross-validated weighted F1.
package tuning

import (
	"context"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabetesml/core/model"
	"github.com/YuminosukeSato/diabetesml/metrics"
	"github.com/YuminosukeSato/diabetesml/optimize/bayesopt"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
	"github.com/YuminosukeSato/diabetesml/sklearn/ensemble"
	"github.com/YuminosukeSato/diabetesml/sklearn/model_selection"
)

// FailureScore is the objective value of a configuration whose fit failed.
const FailureScore = -1.0

// Names of the tuned dimensions.
const (
	ParamNEstimators     = "n_estimators"
	ParamMaxDepth        = "max_depth"
	ParamLearningRate    = "learning_rate"
	ParamSubsample       = "subsample"
	ParamColsampleByTree = "colsample_bytree"
)

// DefaultBounds returns the search box of the boosted model.
func DefaultBounds() *bayesopt.Bounds {
	b, err := bayesopt.NewBounds(
		bayesopt.Dimension{Name: ParamNEstimators, Lo: 100, Hi: 300},
		bayesopt.Dimension{Name: ParamMaxDepth, Lo: 3, Hi: 10},
		bayesopt.Dimension{Name: ParamLearningRate, Lo: 0.01, Hi: 0.2},
		bayesopt.Dimension{Name: ParamSubsample, Lo: 0.6, Hi: 1.0},
		bayesopt.Dimension{Name: ParamColsampleByTree, Lo: 0.6, Hi: 1.0},
	)
	if err != nil {
		panic(err)
	}
	return b
}

// BoosterParams is an evaluated configuration with integer counts.
type BoosterParams struct {
	NEstimators     int     `json:"n_estimators"`
	MaxDepth        int     `json:"max_depth"`
	LearningRate    float64 `json:"learning_rate"`
	Subsample       float64 `json:"subsample"`
	ColsampleByTree float64 `json:"colsample_bytree"`
}

// RoundParams converts optimizer coordinates to booster parameters,
// rounding the integer dimensions to the nearest integer.
func RoundParams(p bayesopt.Params) BoosterParams {
	return BoosterParams{
		NEstimators:     int(math.Round(p[ParamNEstimators])),
		MaxDepth:        int(math.Round(p[ParamMaxDepth])),
		LearningRate:    p[ParamLearningRate],
		Subsample:       p[ParamSubsample],
		ColsampleByTree: p[ParamColsampleByTree],
	}
}

// Options returns the estimator options for bp.
func (bp BoosterParams) Options() []ensemble.GBOption {
	return []ensemble.GBOption{
		ensemble.WithGBNEstimators(bp.NEstimators),
		ensemble.WithGBMaxDepth(bp.MaxDepth),
		ensemble.WithGBLearningRate(bp.LearningRate),
		ensemble.WithGBSubsample(bp.Subsample),
		ensemble.WithGBColsampleByTree(bp.ColsampleByTree),
	}
}

func (bp BoosterParams) String() string {
	return fmt.Sprintf("n_estimators=%d max_depth=%d learning_rate=%.4f subsample=%.3f colsample_bytree=%.3f",
		bp.NEstimators, bp.MaxDepth, bp.LearningRate, bp.Subsample, bp.ColsampleByTree)
}

// Tuner runs the search.
type Tuner struct {
	bounds      *bayesopt.Bounds
	initPoints  int
	nIter       int
	cvFolds     int
	seed        int64
	candidates  int
	optimizer   string
	acquisition bayesopt.Acquisition
	workers     int
	base        []ensemble.GBOption
	logger      log.Logger
}

// Option is a functional option for Tuner.
type Option func(*Tuner)

// WithInitPoints sets the number of random samples.
func WithInitPoints(n int) Option { return func(t *Tuner) { t.initPoints = n } }

// WithNIter sets the number of guided iterations.
func WithNIter(n int) Option { return func(t *Tuner) { t.nIter = n } }

// WithCVFolds sets the number of stratified folds.
func WithCVFolds(k int) Option { return func(t *Tuner) { t.cvFolds = k } }

// WithSeed seeds the optimizer and every booster it trains.
func WithSeed(seed int64) Option { return func(t *Tuner) { t.seed = seed } }

// WithCandidates sets the acquisition sample size.
func WithCandidates(n int) Option { return func(t *Tuner) { t.candidates = n } }

// WithOptimizer selects the search strategy, bayesopt.KindGP or
// bayesopt.KindTPE.
func WithOptimizer(kind string) Option { return func(t *Tuner) { t.optimizer = kind } }

// WithAcquisition selects the acquisition function of the GP optimizer.
func WithAcquisition(a bayesopt.Acquisition) Option { return func(t *Tuner) { t.acquisition = a } }

// WithBounds replaces the default search box.
func WithBounds(b *bayesopt.Bounds) Option { return func(t *Tuner) { t.bounds = b } }

// WithWorkers bounds fold-level parallelism.
func WithWorkers(n int) Option { return func(t *Tuner) { t.workers = n } }

// WithBoosterOptions sets fixed booster options applied before the tuned ones.
func WithBoosterOptions(opts ...ensemble.GBOption) Option {
	return func(t *Tuner) { t.base = append(t.base, opts...) }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option { return func(t *Tuner) { t.logger = logger } }

// NewTuner creates a tuner with 5 random samples, 25 iterations and 3 folds.
func NewTuner(opts ...Option) *Tuner {
	t := &Tuner{
		initPoints:  5,
		nIter:       25,
		cvFolds:     3,
		candidates:  10000,
		acquisition: bayesopt.NewUCB(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.bounds == nil {
		t.bounds = DefaultBounds()
	}
	if t.logger == nil {
		t.logger = log.GetLoggerWithName("Tuner")
	}
	return t
}

// Result is the outcome of a search.
type Result struct {
	Best       bayesopt.Observation   `json:"best"`
	BestParams BoosterParams          `json:"best_params"`
	History    []bayesopt.Observation `json:"history"`
	Failures   int                    `json:"failures"`
}

// Scores returns the objective values in evaluation order.
func (r *Result) Scores() []float64 {
	out := make([]float64, len(r.History))
	for i, h := range r.History {
		out[i] = h.Target
	}
	return out
}

// Tune evaluates exactly init_points + n_iter configurations on X, y and
// returns the best one. A configuration that fails or panics scores
// FailureScore instead of stopping the search.
func (t *Tuner) Tune(ctx context.Context, X mat.Matrix, y []float64) (*Result, error) {
	if t.cvFolds < 2 {
		return nil, errors.NewValidationError("cv_folds", "must be at least 2", t.cvFolds)
	}
	if _, _, err := model.CheckXy("Tuner.Tune", X, y); err != nil {
		return nil, err
	}
	opt, err := t.newOptimizer()
	if err != nil {
		return nil, err
	}
	if c, ok := opt.(io.Closer); ok {
		defer c.Close()
	}

	failures := 0
	for opt.State() != bayesopt.Converged {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "tuning interrupted")
		}
		p, err := opt.Suggest()
		if err != nil {
			return nil, err
		}
		score, err := t.Evaluate(ctx, RoundParams(p), X, y)
		if err != nil {
			failures++
			t.logger.Warn("Configuration failed",
				log.ErrAttrKey, err.Error(),
				log.HyperParamsKey, RoundParams(p).String(),
				log.ScoreKey, FailureScore,
			)
			score = FailureScore
		}
		if err := opt.Observe(p, score); err != nil {
			return nil, err
		}
	}

	best, _ := opt.Best()
	res := &Result{
		Best:       best,
		BestParams: RoundParams(best.Params),
		History:    opt.History(),
		Failures:   failures,
	}
	t.logger.Info("Tuning complete",
		log.ScoreKey, best.Target,
		log.HyperParamsKey, res.BestParams.String(),
		"evaluations", len(res.History),
		"failures", failures,
	)
	return res, nil
}

func (t *Tuner) newOptimizer() (bayesopt.Optimizer, error) {
	kind, err := bayesopt.ParseKind(t.optimizer)
	if err != nil {
		return nil, err
	}
	if kind == bayesopt.KindTPE {
		return bayesopt.NewTPEOptimizer(t.bounds,
			bayesopt.WithTPEInitPoints(t.initPoints),
			bayesopt.WithTPENIter(t.nIter),
			bayesopt.WithTPESeed(t.seed),
			bayesopt.WithTPELogger(t.logger),
		)
	}
	return bayesopt.NewBayesianOptimizer(t.bounds,
		bayesopt.WithInitPoints(t.initPoints),
		bayesopt.WithNIter(t.nIter),
		bayesopt.WithCandidates(t.candidates),
		bayesopt.WithAcquisition(t.acquisition),
		bayesopt.WithSeed(t.seed),
		bayesopt.WithWorkers(t.workers),
		bayesopt.WithLogger(t.logger),
	)
}

// Evaluate returns the mean stratified k-fold weighted F1 of bp on X, y.
// Panics inside the fit are returned as errors.
func (t *Tuner) Evaluate(ctx context.Context, bp BoosterParams, X mat.Matrix, y []float64) (float64, error) {
	return errors.SafeCall("Tuner.Evaluate", func() (float64, error) {
		cv, err := model_selection.CrossValScore(ctx,
			func() (model.Classifier, error) { return t.NewBooster(bp), nil },
			X, y,
			model_selection.NewStratifiedKFold(t.cvFolds, false, 0),
			WeightedF1,
			t.workers,
		)
		if err != nil {
			return 0, err
		}
		score := cv.GetMeanScore()
		if math.IsNaN(score) {
			return 0, errors.NewValueError("Tuner.Evaluate", "cross-validation produced NaN")
		}
		return score, nil
	})
}

// NewBooster builds an unfitted booster for bp with the fixed options and
// the tuner seed.
func (t *Tuner) NewBooster(bp BoosterParams) *ensemble.GradientBoostingClassifier {
	opts := append([]ensemble.GBOption(nil), t.base...)
	opts = append(opts, bp.Options()...)
	opts = append(opts, ensemble.WithGBRandomState(t.seed))
	return ensemble.NewGradientBoostingClassifier(opts...)
}

// FitFinal trains one booster with bp on the full training set.
func (t *Tuner) FitFinal(bp BoosterParams, X mat.Matrix, y []float64) (*ensemble.GradientBoostingClassifier, error) {
	gb := t.NewBooster(bp)
	if err := errors.SafeExecute("Tuner.FitFinal", func() error { return gb.Fit(X, y) }); err != nil {
		return nil, errors.NewModelError("Tuner.FitFinal", "final booster", err)
	}
	return gb, nil
}

// WeightedF1 is the support-weighted F1 score.
func WeightedF1(yTrue, yPred []float64) (float64, error) {
	return metrics.F1Score(yTrue, yPred, metrics.AverageWeighted)
}
