package ensemble

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabetesml/core/model"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
)

var (
	_ model.Classifier                                = (*GradientBoostingClassifier)(nil)
	_ model.FeatureImportancer                        = (*GradientBoostingClassifier)(nil)
	_ model.FittableTransform[*IsolationForestModel] = (*IsolationForest)(nil)
)

func quietGB() GBOption {
	logger, _ := log.NewTestLogger(log.LevelError)
	return WithGBLogger(logger)
}

func quietIF() IFOption {
	logger, _ := log.NewTestLogger(log.LevelError)
	return WithIFLogger(logger)
}

// separable returns rows whose label depends only on feature 0; feature 1 is
// noise that carries no signal.
func separable(n int) (*mat.Dense, []float64) {
	X := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, float64((i*7)%5))
		if i >= n/2 {
			y[i] = 1
		}
	}
	return X, y
}

func TestFindCuts(t *testing.T) {
	assert.Nil(t, findCuts([]float64{3, 3, 3}, 256))
	assert.Equal(t, []float64{1.5, 2.5}, findCuts([]float64{2, 1, 3, 2}, 256))

	values := make([]float64, 1000)
	for i := range values {
		values[i] = float64(i)
	}
	cuts := findCuts(values, 16)
	assert.Len(t, cuts, 15)
	for i := 1; i < len(cuts); i++ {
		assert.Greater(t, cuts[i], cuts[i-1])
	}
}

func TestBinMapper(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	m := newBinMapper(X, 256)
	assert.Equal(t, 4, m.numBins(0))
	assert.Equal(t, 0, m.bin(0, 1))
	assert.Equal(t, 1, m.bin(0, 2))
	assert.Equal(t, 3, m.bin(0, 100))
	assert.Equal(t, 0, m.bin(0, -100))
	assert.Equal(t, 1.5, m.threshold(0, 0))

	bins := m.transform(X)
	assert.Equal(t, []uint8{0, 1, 2, 3}, bins[0])
}

func TestGradientBoostingSeparable(t *testing.T) {
	X, y := separable(40)
	gb := NewGradientBoostingClassifier(WithGBNEstimators(20), WithGBMaxDepth(3), quietGB())
	require.NoError(t, gb.Fit(X, y))

	pred, err := gb.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, y, pred)

	probas, err := gb.PredictProba(X)
	require.NoError(t, err)
	for i := 0; i < 40; i++ {
		assert.InDelta(t, 1.0, probas.At(i, 0)+probas.At(i, 1), 1e-12)
	}

	loss := gb.TrainingLoss()
	require.Len(t, loss, 20)
	assert.Less(t, loss[19], loss[0])
	assert.Len(t, gb.Trees(), 20)
	assert.InDelta(t, 0.0, gb.BaseScore(), 1e-9)

	imp, err := gb.FeatureImportances()
	require.NoError(t, err)
	require.Len(t, imp, 2)
	assert.InDelta(t, 1.0, imp[0]+imp[1], 1e-9)
	assert.Greater(t, imp[0], imp[1])
}

func TestGradientBoostingFirstTree(t *testing.T) {
	// One split on a clean threshold; leaf weights are -G/(H+lambda).
	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := []float64{0, 0, 1, 1}
	gb := NewGradientBoostingClassifier(WithGBNEstimators(1), WithGBMaxDepth(1), WithGBMinChildWeight(0), quietGB())
	require.NoError(t, gb.Fit(X, y))

	tree := gb.Trees()[0]
	require.Len(t, tree.Nodes, 3)
	root := tree.Nodes[0]
	assert.Equal(t, SplitNode, root.NodeType)
	assert.Equal(t, 1.5, root.Threshold)

	// base score 0: p = 0.5, g = ±0.5, h = 0.25 per row
	left := tree.Nodes[root.LeftChild]
	right := tree.Nodes[root.RightChild]
	assert.InDelta(t, -1.0/1.5, left.LeafValue, 1e-12)
	assert.InDelta(t, 1.0/1.5, right.LeafValue, 1e-12)
	assert.Equal(t, 1, tree.Depth())
	assert.Equal(t, 2, tree.NumLeaves())
}

func TestGradientBoostingDeterministicWithSampling(t *testing.T) {
	X, y := separable(60)
	fit := func() []float64 {
		gb := NewGradientBoostingClassifier(
			WithGBNEstimators(10),
			WithGBSubsample(0.7),
			WithGBColsampleByTree(0.5),
			WithGBRandomState(42),
			quietGB(),
		)
		require.NoError(t, gb.Fit(X, y))
		margins, err := gb.DecisionFunction(X)
		require.NoError(t, err)
		return margins
	}
	assert.Equal(t, fit(), fit())
}

func TestGradientBoostingGammaBlocksSplits(t *testing.T) {
	X, y := separable(20)
	gb := NewGradientBoostingClassifier(WithGBNEstimators(1), WithGBGamma(1e6), quietGB())
	require.NoError(t, gb.Fit(X, y))
	assert.Len(t, gb.Trees()[0].Nodes, 1)

	imp, err := gb.FeatureImportances()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, imp)
}

func TestGradientBoostingErrors(t *testing.T) {
	X, y := separable(10)

	_, err := NewGradientBoostingClassifier(quietGB()).Predict(X)
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))
	_, err = NewGradientBoostingClassifier(quietGB()).FeatureImportances()
	assert.True(t, errors.As(err, &nf))

	var ve *errors.ValidationError
	for _, opt := range []GBOption{
		WithGBNEstimators(0),
		WithGBMaxDepth(0),
		WithGBLearningRate(0),
		WithGBSubsample(1.5),
		WithGBColsampleByTree(0),
		WithGBMaxBin(1000),
	} {
		err := NewGradientBoostingClassifier(opt, quietGB()).Fit(X, y)
		assert.True(t, errors.As(err, &ve))
	}

	single := make([]float64, 10)
	err = NewGradientBoostingClassifier(quietGB()).Fit(X, single)
	assert.True(t, errors.Is(err, errors.ErrSingleClass))

	gb := NewGradientBoostingClassifier(WithGBNEstimators(2), quietGB())
	require.NoError(t, gb.Fit(X, y))
	_, err = gb.Predict(mat.NewDense(1, 3, nil))
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, 2, gb.GetParams()["n_estimators"])
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	// c(256) from the isolation forest paper
	assert.InDelta(t, 2*(math.Log(255)+eulerGamma)-2*255.0/256.0, averagePathLength(256), 1e-12)
}

func outlierData() (*mat.Dense, []float64) {
	n := 100
	X := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n-2; i++ {
		X.Set(i, 0, float64(i%10)*0.1)
		X.Set(i, 1, float64(i/10)*0.1)
		y[i] = float64(i % 2)
	}
	X.Set(n-2, 0, 50)
	X.Set(n-2, 1, 50)
	X.Set(n-1, 0, -40)
	X.Set(n-1, 1, 60)
	return X, y
}

func TestIsolationForestFlagsOutliers(t *testing.T) {
	X, y := outlierData()
	m, err := NewIsolationForest(WithIFRandomState(42), WithIFContamination(0.05), quietIF()).Fit(X)
	require.NoError(t, err)

	scores, err := m.ScoreSamples(X)
	require.NoError(t, err)
	for _, s := range scores {
		assert.Greater(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
	for i := 0; i < 98; i++ {
		assert.Greater(t, scores[98], scores[i])
		assert.Greater(t, scores[99], scores[i])
	}

	labels, err := m.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, -1, labels[98])
	assert.Equal(t, -1, labels[99])

	flagged := 0
	for _, l := range labels {
		if l == -1 {
			flagged++
		}
	}
	// strictly above the 95th percentile: at most 5 of 100
	assert.LessOrEqual(t, flagged, 5)

	Xf, yf, removed, err := m.Filter(X, y)
	require.NoError(t, err)
	assert.Equal(t, flagged, removed)
	r, _ := Xf.Dims()
	assert.Equal(t, 100-removed, r)
	assert.Len(t, yf, r)
}

func TestIsolationForestAsTransform(t *testing.T) {
	X, y := outlierData()
	forest := NewIsolationForest(WithIFRandomState(42), WithIFContamination(0.05), quietIF())
	m, Xt, err := model.FitTransform[*IsolationForestModel](forest, X)
	require.NoError(t, err)

	keep, err := m.Inliers(X)
	require.NoError(t, err)
	assert.NotContains(t, keep, 98)
	assert.NotContains(t, keep, 99)

	Xf, yf, removed, err := m.Filter(X, y)
	require.NoError(t, err)
	assert.True(t, mat.Equal(Xt, Xf))
	assert.Equal(t, 100-len(keep), removed)
	for i, idx := range keep {
		assert.Equal(t, y[idx], yf[i])
	}

	// A new matrix goes through the same fitted state.
	unseen := mat.NewDense(2, 2, []float64{0.5, 0.5, 50, 50})
	out, err := m.Transform(unseen)
	require.NoError(t, err)
	assert.True(t, mat.Equal(mat.NewDense(1, 2, []float64{0.5, 0.5}), out))

	_, _, _, err = m.Filter(X, y[:10])
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))
}

func TestIsolationForestDeterministic(t *testing.T) {
	X, _ := outlierData()
	a, err := NewIsolationForest(WithIFRandomState(7), WithIFNEstimators(20), WithIFWorkers(3), quietIF()).Fit(X)
	require.NoError(t, err)
	b, err := NewIsolationForest(WithIFRandomState(7), WithIFNEstimators(20), WithIFWorkers(1), quietIF()).Fit(X)
	require.NoError(t, err)

	sa, err := a.ScoreSamples(X)
	require.NoError(t, err)
	sb, err := b.ScoreSamples(X)
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
	assert.Equal(t, a.Threshold(), b.Threshold())
}

func TestIsolationForestErrors(t *testing.T) {
	X, _ := outlierData()
	var ve *errors.ValidationError

	_, err := NewIsolationForest(WithIFContamination(0), quietIF()).Fit(X)
	assert.True(t, errors.As(err, &ve))
	_, err = NewIsolationForest(WithIFNEstimators(0), quietIF()).Fit(X)
	assert.True(t, errors.As(err, &ve))

	m, err := NewIsolationForest(WithIFNEstimators(5), quietIF()).Fit(X)
	require.NoError(t, err)
	_, err = m.ScoreSamples(mat.NewDense(1, 5, nil))
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))
}

func TestRankImportances(t *testing.T) {
	ranked, err := RankImportances([]string{"a", "b", "c", "d"}, []float64{0.1, 0.4, 0.1, 0.4})
	require.NoError(t, err)
	names := make([]string, len(ranked))
	for i, r := range ranked {
		names[i] = r.Feature
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, names)

	_, err = RankImportances([]string{"a"}, []float64{1, 2})
	assert.Error(t, err)
}
