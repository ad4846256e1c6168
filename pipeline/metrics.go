package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/YuminosukeSato/diabetesml/pkg/errors"
)

const namespace = "diabetesml"

// Metrics collects run statistics on a private registry, written to a text
// file at the end of a run.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration *prometheus.GaugeVec
	stageRows     *prometheus.GaugeVec
	modelScore    *prometheus.GaugeVec
	tunerEvals    prometheus.Counter
	tunerFailures prometheus.Counter
	tunerBest     prometheus.Gauge
}

// NewMetrics registers the pipeline collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		stageDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage.",
		}, []string{"stage"}),
		stageRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_rows",
			Help:      "Rows leaving each pipeline stage.",
		}, []string{"stage"}),
		modelScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_score",
			Help:      "Test-set scores per model and metric.",
		}, []string{"model", "metric"}),
		tunerEvals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tuner_evaluations_total",
			Help:      "Objective evaluations run by the tuner.",
		}),
		tunerFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tuner_failures_total",
			Help:      "Tuner evaluations that failed and scored the sentinel.",
		}),
		tunerBest: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tuner_best_score",
			Help:      "Best cross-validated weighted F1 found by the tuner.",
		}),
	}
}

// ObserveStage records the duration and output size of a stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration, rows int) {
	m.stageDuration.WithLabelValues(stage).Set(d.Seconds())
	m.stageRows.WithLabelValues(stage).Set(float64(rows))
}

// ObserveModel records one score of a model.
func (m *Metrics) ObserveModel(model, metric string, value float64) {
	m.modelScore.WithLabelValues(model, metric).Set(value)
}

// ObserveTuning records the tuner totals.
func (m *Metrics) ObserveTuning(evaluations, failures int, best float64) {
	m.tunerEvals.Add(float64(evaluations))
	m.tunerFailures.Add(float64(failures))
	m.tunerBest.Set(best)
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteToTextfile writes all metrics in the text exposition format.
func (m *Metrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrapf(err, "failed to write metrics to %s", path)
	}
	return nil
}
