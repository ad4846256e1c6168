// Package pipeline runs the diabetes classification workflow end to end:
// load, clean, split, filter outliers, scale, balance, compare the model
// bank, tune the booster and evaluate the tuned model.
//
//	cfg := pipeline.DefaultConfig()
//	p, err := pipeline.New(cfg)
//	if err != nil { ... }
//	res, err := p.Run(ctx)
//
// Stages run strictly in order and each runs once. The test split is only
// scaled and scored; it never reaches the outlier filter or SMOTE.
package pipeline

import (
	"context"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabetesml/core/model"
	"github.com/YuminosukeSato/diabetesml/dataset"
	"github.com/YuminosukeSato/diabetesml/metrics"
	"github.com/YuminosukeSato/diabetesml/optimize/bayesopt"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
	"github.com/YuminosukeSato/diabetesml/preprocessing"
	"github.com/YuminosukeSato/diabetesml/sklearn/ensemble"
	"github.com/YuminosukeSato/diabetesml/sklearn/linear_model"
	"github.com/YuminosukeSato/diabetesml/sklearn/model_selection"
	"github.com/YuminosukeSato/diabetesml/sklearn/neighbors"
	"github.com/YuminosukeSato/diabetesml/sklearn/over_sampling"
	"github.com/YuminosukeSato/diabetesml/tuning"
)

// Stage names, in execution order.
const (
	StageLoad     = "load"
	StageClean    = "clean"
	StageSplit    = "split"
	StageOutliers = "outliers"
	StageScale    = "scale"
	StageBalance  = "balance"
	StageModels   = "models"
	StageTune     = "tune"
	StageFinal    = "final"
)

// Model names used in results and metrics.
const (
	ModelLogistic = "LogisticRegression"
	ModelKNN      = "KNeighborsClassifier"
	ModelBooster  = "GradientBoostingClassifier"
	ModelTuned    = "TunedGradientBoostingClassifier"
)

// ClassCount is the number of rows carrying one label.
type ClassCount struct {
	Label float64 `json:"label"`
	Count int     `json:"count"`
}

// AgeGroup is the number of rows in one age category.
type AgeGroup struct {
	Code     int    `json:"code"`
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// DatasetSummary describes the input after duplicate removal.
type DatasetSummary struct {
	Path       string       `json:"path"`
	RawRows    int          `json:"raw_rows"`
	Rows       int          `json:"rows"`
	Duplicates int          `json:"duplicates"`
	Features   []string     `json:"features"`
	Classes    []ClassCount `json:"classes"`
	AgeGroups  []AgeGroup   `json:"age_groups,omitempty"`
}

// OutlierSummary is the effect of the isolation forest on the train split.
type OutlierSummary struct {
	Contamination float64 `json:"contamination"`
	Threshold     float64 `json:"threshold"`
	Removed       int     `json:"removed"`
	Remaining     int     `json:"remaining"`
}

// SplitSummary gives the sizes of both sides of the split.
type SplitSummary struct {
	Train int `json:"train"`
	Test  int `json:"test"`
}

// ScalerSummary is the fitted standardization.
type ScalerSummary struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// BalanceSummary compares the train labels before and after SMOTE.
type BalanceSummary struct {
	Before []ClassCount `json:"before"`
	After  []ClassCount `json:"after"`
}

// Metric names in model summaries and exported metrics.
const (
	MetricAccuracy   = "accuracy"
	MetricWeightedF1 = "f1_weighted"
	MetricAUC        = "roc_auc"
	MetricLogLoss    = "log_loss"
)

// ModelResult holds the test-set scores of one fitted classifier.
type ModelResult struct {
	Name       string                        `json:"name"`
	Summary    *model.Summary                `json:"summary,omitempty"`
	Accuracy   float64                       `json:"accuracy"`
	WeightedF1 float64                       `json:"f1_weighted"`
	AUC        float64                       `json:"roc_auc"`
	LogLoss    float64                       `json:"log_loss"`
	Report     *metrics.ClassificationReport `json:"report"`
	Confusion  *metrics.ConfusionMatrix      `json:"confusion_matrix"`
}

// StageTiming records how long a stage ran and how many rows it produced.
type StageTiming struct {
	Name    string  `json:"name"`
	Seconds float64 `json:"seconds"`
	Rows    int     `json:"rows"`
}

// Result is everything a run produces.
type Result struct {
	Dataset     DatasetSummary               `json:"dataset"`
	IQR         []preprocessing.IQRStat      `json:"iqr"`
	Outliers    OutlierSummary               `json:"outliers"`
	Split       SplitSummary                 `json:"split"`
	Scaler      ScalerSummary                `json:"scaler"`
	Balance     BalanceSummary               `json:"balance"`
	Models      []*ModelResult               `json:"models"`
	Tuning      *tuning.Result               `json:"tuning"`
	Final       *ModelResult                 `json:"final"`
	Importances []ensemble.FeatureImportance `json:"feature_importances"`
	Stages      []StageTiming                `json:"stages"`
}

// Pipeline executes one configured run.
type Pipeline struct {
	cfg     *Config
	logger  log.Logger
	metrics *Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMetrics sets the metrics sink. A fresh one is created otherwise.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New validates cfg and returns a pipeline ready to Run.
func New(cfg *Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("config", "must not be nil", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.GetLoggerWithName("pipeline")
	}
	if p.metrics == nil {
		p.metrics = NewMetrics()
	}
	return p, nil
}

// Metrics returns the metrics sink of the pipeline.
func (p *Pipeline) Metrics() *Metrics { return p.metrics }

// run carries the data handed from one stage to the next.
type run struct {
	res *Result

	table        *dataset.Table
	split        *model_selection.Split
	xTrain       *mat.Dense
	yTrain       []float64
	xTrainScaled *mat.Dense
	xTestScaled  *mat.Dense
	xBalanced    *mat.Dense
	yBalanced    []float64
	tuner        *tuning.Tuner
}

// Run executes every stage once. Any stage error aborts the run; ctx is
// checked between stages and inside the tuner loop.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	r := &run{res: &Result{}}
	stages := []struct {
		name string
		fn   func(context.Context, *run) (int, error)
	}{
		{StageLoad, p.load},
		{StageClean, p.clean},
		{StageSplit, p.splitData},
		{StageOutliers, p.filterOutliers},
		{StageScale, p.scale},
		{StageBalance, p.balance},
		{StageModels, p.evaluateModels},
		{StageTune, p.tune},
		{StageFinal, p.final},
	}

	start := time.Now()
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "pipeline interrupted before stage %s", s.name)
		}
		t0 := time.Now()
		rows, err := s.fn(ctx, r)
		if err != nil {
			p.logger.Error("Stage failed", err, log.StageKey, s.name)
			return nil, errors.Wrapf(err, "stage %s", s.name)
		}
		d := time.Since(t0)
		p.metrics.ObserveStage(s.name, d, rows)
		r.res.Stages = append(r.res.Stages, StageTiming{Name: s.name, Seconds: d.Seconds(), Rows: rows})
		p.logger.Debug("Stage complete",
			log.StageKey, s.name,
			log.SamplesKey, rows,
			log.DurationMsKey, d.Milliseconds(),
		)
	}

	if p.cfg.MetricsFile != "" {
		if err := p.metrics.WriteToTextfile(p.cfg.MetricsFile); err != nil {
			return nil, err
		}
	}
	p.logger.Info("Pipeline complete",
		log.DurationMsKey, time.Since(start).Milliseconds(),
		log.F1Key, r.res.Final.WeightedF1,
	)
	return r.res, nil
}

func (p *Pipeline) load(_ context.Context, r *run) (int, error) {
	t, err := dataset.Load(p.cfg.DataPath, dataset.WithLoaderLogger(p.logger.With(log.ComponentKey, "dataset")))
	if err != nil {
		return 0, err
	}
	r.table = t
	r.res.Dataset.Path = p.cfg.DataPath
	r.res.Dataset.RawRows = t.NumRows()
	r.res.Dataset.Features = t.FeatureNames()
	return t.NumRows(), nil
}

func (p *Pipeline) clean(_ context.Context, r *run) (int, error) {
	t, dropped := preprocessing.DropDuplicates(r.table)
	r.table = t

	ds := &r.res.Dataset
	ds.Rows = t.NumRows()
	ds.Duplicates = dropped
	ds.Classes = classCounts(t.ClassCounts())
	if ages, err := t.Column("Age"); err == nil {
		ds.AgeGroups = ageGroups(ages)
	}
	r.res.IQR = preprocessing.IQRReport(t)

	flagged := 0
	for _, st := range r.res.IQR {
		if st.Outliers > 0 {
			flagged++
		}
	}
	p.logger.Info("Duplicates removed",
		log.StageKey, StageClean,
		log.RemovedKey, dropped,
		log.SamplesKey, t.NumRows(),
		"iqr_columns_with_outliers", flagged,
	)
	return t.NumRows(), nil
}

func (p *Pipeline) splitData(_ context.Context, r *run) (int, error) {
	s, err := model_selection.TrainTestSplit(r.table.Features(), r.table.Labels(), p.cfg.TestSize, p.cfg.Seed)
	if err != nil {
		return 0, err
	}
	r.split = s
	r.res.Split = SplitSummary{Train: len(s.YTrain), Test: len(s.YTest)}
	p.logger.Info("Data split",
		log.StageKey, StageSplit,
		"train", len(s.YTrain),
		"test", len(s.YTest),
		log.RandomSeedKey, p.cfg.Seed,
	)
	return len(s.YTrain), nil
}

func (p *Pipeline) filterOutliers(_ context.Context, r *run) (int, error) {
	forest := ensemble.NewIsolationForest(
		ensemble.WithIFContamination(p.cfg.Contamination),
		ensemble.WithIFRandomState(p.cfg.Seed),
		ensemble.WithIFWorkers(p.cfg.Workers),
		ensemble.WithIFLogger(p.logger.With(log.ModelNameKey, "IsolationForest")),
	)
	m, err := forest.Fit(r.split.XTrain)
	if err != nil {
		return 0, err
	}
	x, y, removed, err := m.Filter(r.split.XTrain, r.split.YTrain)
	if err != nil {
		return 0, err
	}
	r.xTrain, r.yTrain = x, y
	r.res.Outliers = OutlierSummary{
		Contamination: p.cfg.Contamination,
		Threshold:     m.Threshold(),
		Removed:       removed,
		Remaining:     len(y),
	}
	p.logger.Info("Outliers removed from train split",
		log.StageKey, StageOutliers,
		log.RemovedKey, removed,
		log.SamplesKey, len(y),
	)
	return len(y), nil
}

func (p *Pipeline) scale(_ context.Context, r *run) (int, error) {
	state, xs, err := model.FitTransform[*preprocessing.ScalerState](preprocessing.NewStandardScalerDefault(), r.xTrain)
	if err != nil {
		return 0, err
	}
	r.xTrainScaled = xs
	if r.xTestScaled, err = state.Transform(r.split.XTest); err != nil {
		return 0, err
	}
	r.res.Scaler = ScalerSummary{Mean: state.Mean, Scale: state.Scale}
	return len(r.yTrain), nil
}

func (p *Pipeline) balance(_ context.Context, r *run) (int, error) {
	before := classCounts(dataset.CountClasses(r.yTrain))
	var resampler model.Resampler = over_sampling.NewSMOTE(
		over_sampling.WithSMOTEKNeighbors(p.cfg.SMOTEKNeighbors),
		over_sampling.WithSMOTERandomState(p.cfg.Seed),
		over_sampling.WithSMOTELogger(p.logger.With(log.ComponentKey, "SMOTE")),
	)
	x, y, err := resampler.FitResample(r.xTrainScaled, r.yTrain)
	if err != nil {
		return 0, err
	}
	r.xBalanced, r.yBalanced = x, y
	r.res.Balance = BalanceSummary{Before: before, After: classCounts(dataset.CountClasses(y))}
	return len(y), nil
}

type namedModel struct {
	name string
	clf  model.Classifier
}

func (p *Pipeline) modelBank() []namedModel {
	cfg := p.cfg
	return []namedModel{
		{ModelLogistic, linear_model.NewLogisticRegression(
			linear_model.WithLRC(cfg.Logistic.C),
			linear_model.WithLRMaxIter(cfg.Logistic.MaxIter),
			linear_model.WithLRRandomState(cfg.Seed),
			linear_model.WithLRLogger(p.logger.With(log.ModelNameKey, ModelLogistic)),
		)},
		{ModelKNN, neighbors.NewKNeighborsClassifier(
			neighbors.WithKNNNeighbors(cfg.KNN.NNeighbors),
			neighbors.WithKNNWeights(cfg.KNN.Weights),
			neighbors.WithKNNWorkers(cfg.Workers),
			neighbors.WithKNNLogger(p.logger.With(log.ModelNameKey, ModelKNN)),
		)},
		{ModelBooster, ensemble.NewGradientBoostingClassifier(append(p.boosterOptions(),
			ensemble.WithGBNEstimators(cfg.Booster.NEstimators),
			ensemble.WithGBMaxDepth(cfg.Booster.MaxDepth),
			ensemble.WithGBLearningRate(cfg.Booster.LearningRate),
			ensemble.WithGBSubsample(cfg.Booster.Subsample),
			ensemble.WithGBColsampleByTree(cfg.Booster.ColsampleByTree),
			ensemble.WithGBRandomState(cfg.Seed),
		)...)},
	}
}

// boosterOptions are the booster settings the tuner leaves alone.
func (p *Pipeline) boosterOptions() []ensemble.GBOption {
	b := p.cfg.Booster
	return []ensemble.GBOption{
		ensemble.WithGBRegLambda(b.RegLambda),
		ensemble.WithGBMinChildWeight(b.MinChildWeight),
		ensemble.WithGBGamma(b.Gamma),
		ensemble.WithGBMaxBin(b.MaxBin),
		ensemble.WithGBWorkers(p.cfg.Workers),
		ensemble.WithGBLogger(p.logger.With(log.ModelNameKey, ModelBooster)),
	}
}

func (p *Pipeline) evaluateModels(ctx context.Context, r *run) (int, error) {
	for _, nm := range p.modelBank() {
		if err := ctx.Err(); err != nil {
			return 0, errors.Wrapf(err, "interrupted before %s", nm.name)
		}
		if err := nm.clf.Fit(r.xBalanced, r.yBalanced); err != nil {
			return 0, errors.NewModelError("Pipeline.evaluateModels", nm.name, err)
		}
		mr, err := EvaluateModel(nm.name, nm.clf, r.xTestScaled, r.split.YTest)
		if err != nil {
			return 0, err
		}
		p.record(mr)
		r.res.Models = append(r.res.Models, mr)
	}
	return len(r.split.YTest), nil
}

func (p *Pipeline) tune(ctx context.Context, r *run) (int, error) {
	acq, err := bayesopt.ParseAcquisition(p.cfg.Acquisition)
	if err != nil {
		return 0, err
	}
	r.tuner = tuning.NewTuner(
		tuning.WithInitPoints(p.cfg.InitPoints),
		tuning.WithNIter(p.cfg.NIter),
		tuning.WithCVFolds(p.cfg.CVFolds),
		tuning.WithSeed(p.cfg.Seed),
		tuning.WithCandidates(p.cfg.Candidates),
		tuning.WithOptimizer(p.cfg.Optimizer),
		tuning.WithAcquisition(acq),
		tuning.WithWorkers(p.cfg.Workers),
		tuning.WithBoosterOptions(p.boosterOptions()...),
		tuning.WithLogger(p.logger.With(log.ComponentKey, "tuner")),
	)
	res, err := r.tuner.Tune(ctx, r.xBalanced, r.yBalanced)
	if err != nil {
		return 0, err
	}
	r.res.Tuning = res
	p.metrics.ObserveTuning(len(res.History), res.Failures, res.Best.Target)
	return len(res.History), nil
}

func (p *Pipeline) final(_ context.Context, r *run) (int, error) {
	gb, err := r.tuner.FitFinal(r.res.Tuning.BestParams, r.xBalanced, r.yBalanced)
	if err != nil {
		return 0, err
	}
	mr, err := EvaluateModel(ModelTuned, gb, r.xTestScaled, r.split.YTest)
	if err != nil {
		return 0, err
	}
	p.record(mr)
	r.res.Final = mr

	imps, err := gb.FeatureImportances()
	if err != nil {
		return 0, err
	}
	ranked, err := ensemble.RankImportances(r.res.Dataset.Features, imps)
	if err != nil {
		return 0, err
	}
	r.res.Importances = ranked
	if len(ranked) > 0 {
		p.logger.Info("Top feature",
			"feature", ranked[0].Feature,
			"importance", ranked[0].Importance,
		)
	}
	return len(r.split.YTest), nil
}

func (p *Pipeline) record(mr *ModelResult) {
	for metric, v := range mr.Summary.Metrics {
		p.metrics.ObserveModel(mr.Name, metric, v)
	}
	p.logger.Info("Model evaluated",
		log.ModelNameKey, mr.Name,
		log.AccuracyKey, mr.Accuracy,
		log.F1Key, mr.WeightedF1,
		"roc_auc", mr.AUC,
		log.LossKey, mr.LogLoss,
	)
}

// EvaluateModel scores a fitted classifier on X, y: accuracy, weighted F1,
// the classification report, the confusion matrix, and ROC AUC and log loss
// of the probability of label 1.
func EvaluateModel(name string, clf model.Classifier, X mat.Matrix, y []float64) (*ModelResult, error) {
	pred, err := clf.Predict(X)
	if err != nil {
		return nil, errors.NewModelError("EvaluateModel", name, err)
	}
	proba, err := clf.PredictProba(X)
	if err != nil {
		return nil, errors.NewModelError("EvaluateModel", name, err)
	}

	n := len(y)
	yTrue := mat.NewVecDense(n, append([]float64(nil), y...))
	mr := &ModelResult{Name: name, Summary: model.NewSummary(name, clf)}
	if mr.Accuracy, err = metrics.Accuracy(yTrue, mat.NewVecDense(n, append([]float64(nil), pred...))); err != nil {
		return nil, err
	}
	if mr.WeightedF1, err = metrics.F1Score(y, pred, metrics.AverageWeighted); err != nil {
		return nil, err
	}
	if mr.Report, err = metrics.NewClassificationReport(y, pred); err != nil {
		return nil, err
	}
	if mr.Confusion, err = metrics.NewConfusionMatrix(y, pred); err != nil {
		return nil, err
	}

	pos := positiveProbability(clf.Classes(), proba)
	if mr.AUC, err = metrics.AUC(yTrue, pos); err != nil {
		return nil, err
	}
	if mr.LogLoss, err = metrics.BinaryLogLoss(yTrue, pos); err != nil {
		return nil, err
	}

	mr.Summary.Metrics[MetricAccuracy] = mr.Accuracy
	mr.Summary.Metrics[MetricWeightedF1] = mr.WeightedF1
	mr.Summary.Metrics[MetricAUC] = mr.AUC
	mr.Summary.Metrics[MetricLogLoss] = mr.LogLoss
	if err := mr.Summary.Validate(); err != nil {
		return nil, err
	}
	return mr, nil
}

// positiveProbability extracts the column of label 1, or zeros when the
// model never saw that label.
func positiveProbability(classes []float64, proba *mat.Dense) *mat.VecDense {
	r, _ := proba.Dims()
	out := mat.NewVecDense(r, nil)
	for j, c := range classes {
		if c == 1 {
			out.CopyVec(proba.ColView(j))
			break
		}
	}
	return out
}

func classCounts(counts map[float64]int) []ClassCount {
	labels := dataset.SortedClasses(counts)
	out := make([]ClassCount, len(labels))
	for i, l := range labels {
		out[i] = ClassCount{Label: l, Count: counts[l]}
	}
	return out
}

// ageGroups counts rows per age code, ascending by code.
func ageGroups(codes []float64) []AgeGroup {
	counts := make(map[int]int)
	for _, c := range codes {
		counts[int(c)]++
	}
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]AgeGroup, len(keys))
	for i, k := range keys {
		out[i] = AgeGroup{Code: k, Category: dataset.AgeCategory(k), Count: counts[k]}
	}
	return out
}
