package neighbors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabetesml/core/model"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
)

var _ model.Classifier = (*KNeighborsClassifier)(nil)

func quiet() KNNOption {
	logger, _ := log.NewTestLogger(log.LevelError)
	return WithKNNLogger(logger)
}

func TestKDTreeQuery(t *testing.T) {
	X := mat.NewDense(5, 2, []float64{
		0, 0,
		1, 0,
		0, 2,
		3, 3,
		1, 0,
	})
	tree := NewKDTree(X)
	assert.Equal(t, 5, tree.Len())

	idx, dist := tree.Query([]float64{0.9, 0}, 3)
	// Rows 1 and 4 are identical and tie; the lower index comes first.
	assert.Equal(t, []int{1, 4, 0}, idx)
	assert.InDelta(t, 0.1, dist[0], 1e-12)
	assert.InDelta(t, 0.1, dist[1], 1e-12)
	assert.InDelta(t, 0.9, dist[2], 1e-12)

	all, _ := tree.Query([]float64{0, 0}, 50)
	assert.Len(t, all, 5)

	none, _ := tree.Query([]float64{0, 0}, 0)
	assert.Empty(t, none)
}

func TestKDTreeMatchesBruteForce(t *testing.T) {
	n := 200
	X := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64((i*37)%101))
		X.Set(i, 1, float64((i*53)%97))
		X.Set(i, 2, float64((i*11)%89))
	}
	tree := NewKDTree(X)
	q := []float64{50, 40, 30}

	idx, dist := tree.Query(q, 7)
	require.Len(t, idx, 7)
	for k := 1; k < len(dist); k++ {
		assert.LessOrEqual(t, dist[k-1], dist[k])
	}
	// No row outside the result is strictly closer than the farthest kept.
	kept := make(map[int]bool)
	for _, i := range idx {
		kept[i] = true
	}
	worst := dist[len(dist)-1]
	for i := 0; i < n; i++ {
		if kept[i] {
			continue
		}
		d := 0.0
		for j := 0; j < 3; j++ {
			diff := X.At(i, j) - q[j]
			d += diff * diff
		}
		assert.GreaterOrEqual(t, d, worst*worst-1e-9)
	}
}

func TestKNeighborsClassifierDistanceWeights(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 3, 10})
	y := []float64{0, 0, 1, 1}
	knn := NewKNeighborsClassifier(WithKNNNeighbors(3), quiet())
	require.NoError(t, knn.Fit(X, y))

	// Query 2: neighbours 1 (d=1), 3 (d=1), 0 (d=2).
	probas, err := knn.PredictProba(mat.NewDense(1, 1, []float64{2}))
	require.NoError(t, err)
	// class 0: 1/1 + 1/2, class 1: 1/1
	assert.InDelta(t, 1.5/2.5, probas.At(0, 0), 1e-12)
	assert.InDelta(t, 1.0/2.5, probas.At(0, 1), 1e-12)

	pred, err := knn.Predict(mat.NewDense(1, 1, []float64{2}))
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, pred)
}

func TestKNeighborsClassifierExactMatchTakesAllWeight(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{5, 5.1, 4.9})
	y := []float64{1, 0, 0}
	knn := NewKNeighborsClassifier(WithKNNNeighbors(3), quiet())
	require.NoError(t, knn.Fit(X, y))

	probas, err := knn.PredictProba(mat.NewDense(1, 1, []float64{5}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, probas.At(0, 0))
	assert.Equal(t, 1.0, probas.At(0, 1))
}

func TestKNeighborsClassifierUniform(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 3, 10})
	y := []float64{0, 0, 1, 1}
	knn := NewKNeighborsClassifier(WithKNNNeighbors(3), WithKNNWeights(WeightsUniform), WithKNNWorkers(2), quiet())
	require.NoError(t, knn.Fit(X, y))

	probas, err := knn.PredictProba(mat.NewDense(2, 1, []float64{2, 9}))
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, probas.At(0, 0), 1e-12)
	assert.InDelta(t, 2.0/3.0, probas.At(1, 1), 1e-12)

	idx, dist, err := knn.KNeighbors(mat.NewDense(1, 1, []float64{9}), 2)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, idx[0])
	assert.Equal(t, []float64{1, 6}, dist[0])
}

func TestKNeighborsClassifierLargeBatchMatchesSingleRows(t *testing.T) {
	n := 120
	X := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64((i*37)%101))
		X.Set(i, 1, float64((i*53)%97))
		if X.At(i, 0)+X.At(i, 1) > 100 {
			y[i] = 1
		}
	}
	knn := NewKNeighborsClassifier(WithKNNNeighbors(5), WithKNNWorkers(4), quiet())
	require.NoError(t, knn.Fit(X, y))

	// n is above minParallelRows, a single row is below it.
	require.Greater(t, n, minParallelRows)
	batch, err := knn.PredictProba(X)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		one, err := knn.PredictProba(X.Slice(i, i+1, 0, 2))
		require.NoError(t, err)
		assert.Equal(t, mat.Row(nil, i, batch), mat.Row(nil, 0, one))
	}
}

func TestKNeighborsClassifierErrors(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{0, 1})
	y := []float64{0, 1}

	_, err := NewKNeighborsClassifier(quiet()).Predict(X)
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	err = NewKNeighborsClassifier(WithKNNNeighbors(0), quiet()).Fit(X, y)
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))

	err = NewKNeighborsClassifier(WithKNNWeights("gaussian"), quiet()).Fit(X, y)
	assert.True(t, errors.As(err, &ve))

	knn := NewKNeighborsClassifier(quiet())
	require.NoError(t, knn.Fit(X, y))
	_, err = knn.Predict(mat.NewDense(1, 2, nil))
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))

	assert.Equal(t, 10, knn.GetParams()["n_neighbors"])
	assert.Contains(t, knn.String(), "distance")
}
