package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/diabetesml/pkg/errors"
)

var (
	reportTrue = []float64{0, 0, 0, 0, 0, 0, 1, 1, 1, 1}
	reportPred = []float64{0, 0, 0, 0, 1, 1, 1, 1, 1, 0}
)

func TestConfusionMatrix(t *testing.T) {
	cm, err := NewConfusionMatrix(reportTrue, reportPred)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, cm.Labels)
	assert.Equal(t, [][]int{{4, 2}, {1, 3}}, cm.Counts)
	assert.Equal(t, len(reportTrue), cm.Total())
}

func TestConfusionMatrixLabelsSortedUnion(t *testing.T) {
	cm, err := NewConfusionMatrix([]float64{2, 0, 2}, []float64{1, 0, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, cm.Labels)
	assert.Equal(t, [][]int{{1, 0, 0}, {0, 0, 0}, {0, 1, 1}}, cm.Counts)
	assert.Equal(t, 3, cm.Total())
}

func TestConfusionMatrixErrors(t *testing.T) {
	_, err := NewConfusionMatrix(nil, nil)
	assert.Error(t, err)

	_, err = NewConfusionMatrix([]float64{0, 1}, []float64{0})
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))
}

func TestClassificationReport(t *testing.T) {
	rep, err := NewClassificationReport(reportTrue, reportPred)
	require.NoError(t, err)

	neg, ok := rep.Class(0)
	require.True(t, ok)
	assert.InDelta(t, 0.8, neg.Precision, 1e-9)
	assert.InDelta(t, 4.0/6.0, neg.Recall, 1e-9)
	assert.InDelta(t, 0.727273, neg.F1, 1e-6)
	assert.Equal(t, 6, neg.Support)

	pos, ok := rep.Class(1)
	require.True(t, ok)
	assert.InDelta(t, 0.6, pos.Precision, 1e-9)
	assert.InDelta(t, 0.75, pos.Recall, 1e-9)
	assert.InDelta(t, 0.666667, pos.F1, 1e-6)
	assert.Equal(t, 4, pos.Support)

	assert.InDelta(t, 0.7, rep.Accuracy, 1e-9)
	assert.InDelta(t, 0.696970, rep.MacroAvg.F1, 1e-6)
	assert.InDelta(t, 0.703030, rep.WeightedAvg.F1, 1e-6)
	assert.Equal(t, 10, rep.WeightedAvg.Support)

	_, ok = rep.Class(7)
	assert.False(t, ok)

	text := rep.String()
	assert.Contains(t, text, "precision")
	assert.Contains(t, text, "weighted avg")
	assert.Contains(t, text, "0.70")
}

func TestF1Score(t *testing.T) {
	tests := []struct {
		average string
		want    float64
	}{
		{AverageWeighted, 0.703030},
		{AverageMacro, 0.696970},
		{AverageBinary, 0.666667},
	}
	for _, tt := range tests {
		t.Run(tt.average, func(t *testing.T) {
			got, err := F1Score(reportTrue, reportPred, tt.average)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}

	_, err := F1Score(reportTrue, reportPred, "micro-ish")
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = F1Score([]float64{0, 2}, []float64{0, 2}, AverageBinary)
	assert.Error(t, err)
}

func TestF1ScoreUndefinedPrecision(t *testing.T) {
	var warned []error
	errors.SetWarningHandler(func(w error) { warned = append(warned, w) })
	defer errors.SetWarningHandler(nil)

	// Class 1 is never predicted: its precision is undefined and reported as 0.
	got, err := F1Score([]float64{0, 0, 1, 1}, []float64{0, 0, 0, 0}, AverageWeighted)
	require.NoError(t, err)
	// class 0: p=0.5 r=1 f1=2/3, weight 0.5; class 1: f1=0.
	assert.InDelta(t, 1.0/3.0, got, 1e-9)

	require.NotEmpty(t, warned)
	var um *errors.UndefinedMetricWarning
	assert.True(t, errors.As(warned[0], &um))
}

func TestPrecisionRecallFScorePerfect(t *testing.T) {
	p, r, f, err := PrecisionRecallFScore([]float64{0, 1, 1}, []float64{0, 1, 1}, AverageMacro)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)
	assert.Equal(t, 1.0, r)
	assert.Equal(t, 1.0, f)
}
