package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherFamily(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}

func TestMetricsObserve(t *testing.T) {
	m := NewMetrics()
	m.ObserveStage(StageLoad, 2*time.Second, 120)
	m.ObserveModel(ModelKNN, "accuracy", 0.8)
	m.ObserveTuning(30, 2, 0.91)

	dur := gatherFamily(t, m, "diabetesml_stage_duration_seconds")
	require.Len(t, dur.GetMetric(), 1)
	assert.Equal(t, 2.0, dur.GetMetric()[0].GetGauge().GetValue())

	rows := gatherFamily(t, m, "diabetesml_stage_rows")
	assert.Equal(t, 120.0, rows.GetMetric()[0].GetGauge().GetValue())

	score := gatherFamily(t, m, "diabetesml_model_score")
	require.Len(t, score.GetMetric(), 1)
	labels := map[string]string{}
	for _, lp := range score.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	assert.Equal(t, map[string]string{"model": ModelKNN, "metric": "accuracy"}, labels)

	evals := gatherFamily(t, m, "diabetesml_tuner_evaluations_total")
	assert.Equal(t, 30.0, evals.GetMetric()[0].GetCounter().GetValue())
	failures := gatherFamily(t, m, "diabetesml_tuner_failures_total")
	assert.Equal(t, 2.0, failures.GetMetric()[0].GetCounter().GetValue())
	best := gatherFamily(t, m, "diabetesml_tuner_best_score")
	assert.Equal(t, 0.91, best.GetMetric()[0].GetGauge().GetValue())
}

func TestMetricsWriteToTextfile(t *testing.T) {
	m := NewMetrics()
	m.ObserveTuning(5, 0, 0.5)

	path := filepath.Join(t.TempDir(), "run.prom")
	require.NoError(t, m.WriteToTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "diabetesml_tuner_evaluations_total 5")
	assert.Contains(t, string(data), "# TYPE diabetesml_tuner_best_score gauge")

	assert.Error(t, m.WriteToTextfile(filepath.Join(t.TempDir(), "missing", "run.prom")))
}
