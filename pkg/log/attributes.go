package log

// Model and operation context.
const (
	// ModelNameKey identifies the estimator, e.g. "LogisticRegression".
	ModelNameKey = "model.name"

	// OperationKey is the ML operation: "fit", "predict", "transform", ...
	OperationKey = "ml.operation"

	// ComponentKey is the package or subsystem emitting the record.
	ComponentKey = "ml.component"

	// PhaseKey is the lifecycle phase: "training", "validation", ...
	PhaseKey = "ml.phase"

	// StageKey names the pipeline stage: "load", "clean", "split", ...
	StageKey = "pipeline.stage"
)

// Data shape.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	// RemovedKey counts rows dropped by a cleaning step.
	RemovedKey = "data.removed"
	// ClassCountsKey holds per-class row counts.
	ClassCountsKey = "data.class_counts"
	PathKey        = "data.path"
)

// Performance and scores.
const (
	DurationMsKey = "perf.duration_ms"
	AccuracyKey   = "metrics.accuracy"
	F1Key         = "metrics.f1_weighted"
	LossKey       = "metrics.loss"
	ScoreKey      = "metrics.score"
	IterationKey  = "training.iteration"
)

// Hyperparameters and configuration.
const (
	HyperParamsKey  = "model.hyperparams"
	LearningRateKey = "hyperparams.learning_rate"
	RandomSeedKey   = "config.random_seed"
)

// Error context.
const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
	ErrorTypeKey      = "error.type"
)

// Standard values.
const (
	OperationFit       = "fit"
	OperationPredict   = "predict"
	OperationTransform = "transform"
	OperationResample  = "fit_resample"
	OperationScore     = "score"

	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseTesting       = "testing"
	PhasePreprocessing = "preprocessing"
)
