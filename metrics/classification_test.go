package metrics

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabetesml/pkg/errors"
)

// Eight screened respondents, three diagnosed, with the positive-class
// probabilities a fitted model assigned them.
var (
	screenTrue  = []float64{0, 0, 0, 0, 0, 1, 1, 1}
	screenProba = []float64{0.05, 0.20, 0.35, 0.60, 0.10, 0.55, 0.80, 0.35}
	// screenProba thresholded at 0.5.
	screenPred = []float64{0, 0, 0, 1, 0, 1, 1, 0}
)

func vec(v []float64) *mat.VecDense {
	return mat.NewVecDense(len(v), append([]float64(nil), v...))
}

func TestAccuracy(t *testing.T) {
	acc, err := Accuracy(vec(screenTrue), vec(screenPred))
	require.NoError(t, err)
	assert.Equal(t, 0.75, acc)

	acc, err = Accuracy(vec(screenTrue), vec(screenTrue))
	require.NoError(t, err)
	assert.Equal(t, 1.0, acc)
}

func TestAccuracyErrors(t *testing.T) {
	_, err := Accuracy(nil, vec(screenPred))
	assert.Error(t, err)

	_, err = Accuracy(vec(screenTrue), vec(screenPred[:3]))
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))
}

func TestAUC(t *testing.T) {
	// 12 of the 15 positive/negative pairs are ordered correctly and one
	// pair ties at 0.35.
	auc, err := AUC(vec(screenTrue), vec(screenProba))
	require.NoError(t, err)
	assert.InDelta(t, 12.5/15, auc, 1e-12)

	inverted := make([]float64, len(screenProba))
	for i, p := range screenProba {
		inverted[i] = 1 - p
	}
	auc, err = AUC(vec(screenTrue), vec(inverted))
	require.NoError(t, err)
	assert.InDelta(t, 2.5/15, auc, 1e-12)

	flat := []float64{0.3, 0.3, 0.3, 0.3, 0.3, 0.3, 0.3, 0.3}
	auc, err = AUC(vec(screenTrue), vec(flat))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, auc, 1e-12)
}

func TestAUCInvariantToMonotoneRescaling(t *testing.T) {
	scaled := make([]float64, len(screenProba))
	for i, p := range screenProba {
		scaled[i] = 10*p - 3
	}
	a, err := AUC(vec(screenTrue), vec(screenProba))
	require.NoError(t, err)
	b, err := AUC(vec(screenTrue), vec(scaled))
	require.NoError(t, err)
	assert.InDelta(t, a, b, 1e-12)
}

func TestAUCSingleClassWarns(t *testing.T) {
	var warned []error
	errors.SetWarningHandler(func(w error) { warned = append(warned, w) })
	defer errors.SetWarningHandler(nil)

	auc, err := AUC(vec([]float64{0, 0, 0}), vec([]float64{0.1, 0.7, 0.4}))
	require.NoError(t, err)
	assert.Equal(t, 0.5, auc)

	require.Len(t, warned, 1)
	var uw *errors.UndefinedMetricWarning
	require.True(t, errors.As(warned[0], &uw))
	assert.Equal(t, "AUC", uw.Metric)
}

func TestAUCErrors(t *testing.T) {
	_, err := AUC(vec([]float64{0, 2, 1}), vec([]float64{0.1, 0.5, 0.9}))
	assert.Error(t, err)

	_, err = AUC(vec(screenTrue), vec(screenProba[:2]))
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))

	_, err = AUC(nil, nil)
	assert.Error(t, err)
}

func TestBinaryLogLoss(t *testing.T) {
	loss, err := BinaryLogLoss(vec(screenTrue), vec(screenProba))
	require.NoError(t, err)
	assert.InDelta(t, 0.449709210736838, loss, 1e-12)

	// Certain, correct predictions cost almost nothing once clipped.
	loss, err = BinaryLogLoss(vec([]float64{0, 1}), vec([]float64{0, 1}))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, loss, 1e-12)

	// A certain, wrong prediction costs -log(1e-15).
	loss, err = BinaryLogLoss(vec([]float64{1}), vec([]float64{0}))
	require.NoError(t, err)
	assert.InDelta(t, 34.538776394910684, loss, 1e-9)
}

func TestBinaryLogLossErrors(t *testing.T) {
	_, err := BinaryLogLoss(vec([]float64{0, 3}), vec([]float64{0.2, 0.8}))
	assert.Error(t, err)

	_, err = BinaryLogLoss(vec(screenTrue), vec(screenProba[:5]))
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))
}

func screenBatch(n int) (*mat.VecDense, *mat.VecDense) {
	rng := rand.New(rand.NewPCG(42, 42))
	y := make([]float64, n)
	p := make([]float64, n)
	for i := range y {
		if rng.Float64() < 0.14 {
			y[i] = 1
			p[i] = 0.3 + 0.7*rng.Float64()
		} else {
			p[i] = 0.7 * rng.Float64()
		}
	}
	return mat.NewVecDense(n, y), mat.NewVecDense(n, p)
}

func BenchmarkAUC(b *testing.B) {
	y, p := screenBatch(50000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = AUC(y, p)
	}
}

func BenchmarkBinaryLogLoss(b *testing.B) {
	y, p := screenBatch(50000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = BinaryLogLoss(y, p)
	}
}
