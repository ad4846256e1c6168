package bayesopt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
)

var (
	_ Optimizer = (*BayesianOptimizer)(nil)
	_ Optimizer = (*TPEOptimizer)(nil)
)

func quiet() Option {
	logger, _ := log.NewTestLogger(log.LevelError)
	return WithLogger(logger)
}

func boosterBox(t *testing.T) *Bounds {
	t.Helper()
	b, err := NewBounds(
		Dimension{Name: "n_estimators", Lo: 100, Hi: 300},
		Dimension{Name: "max_depth", Lo: 3, Hi: 10},
		Dimension{Name: "learning_rate", Lo: 0.01, Hi: 0.2},
		Dimension{Name: "subsample", Lo: 0.6, Hi: 1.0},
		Dimension{Name: "colsample_bytree", Lo: 0.6, Hi: 1.0},
	)
	require.NoError(t, err)
	return b
}

// peak is maximal at the centre of the unit cube.
func peak(b *Bounds) func(Params) float64 {
	return func(p Params) float64 {
		x, _ := b.toVector(p)
		u := b.toUnit(x)
		s := 0.0
		for _, v := range u {
			s += (v - 0.5) * (v - 0.5)
		}
		return -s
	}
}

func TestNewBoundsValidation(t *testing.T) {
	tests := []struct {
		name string
		dims []Dimension
	}{
		{"empty", nil},
		{"no name", []Dimension{{Lo: 0, Hi: 1}}},
		{"duplicate", []Dimension{{Name: "a", Lo: 0, Hi: 1}, {Name: "a", Lo: 0, Hi: 1}}},
		{"inverted", []Dimension{{Name: "a", Lo: 1, Hi: 0}}},
		{"degenerate", []Dimension{{Name: "a", Lo: 1, Hi: 1}}},
		{"infinite", []Dimension{{Name: "a", Lo: 0, Hi: math.Inf(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBounds(tt.dims...)
			var ve *errors.ValidationError
			assert.True(t, errors.As(err, &ve))
		})
	}
}

func TestBoundsHelpers(t *testing.T) {
	b := boosterBox(t)
	assert.Equal(t, 5, b.Dims())

	p := Params{"n_estimators": 400, "max_depth": 2, "learning_rate": 0.1, "subsample": 0.7, "colsample_bytree": 0.8}
	assert.False(t, b.Contains(p))
	c := b.Clip(p)
	assert.True(t, b.Contains(c))
	assert.Equal(t, 300.0, c["n_estimators"])
	assert.Equal(t, 3.0, c["max_depth"])
	assert.Equal(t, 400.0, p["n_estimators"])

	x, err := b.toVector(c)
	require.NoError(t, err)
	back := b.fromUnit(b.toUnit(x))
	for i := range x {
		assert.InDelta(t, x[i], back[i], 1e-12)
	}
	assert.Contains(t, b.Format(c), "n_estimators=300")

	_, err = b.toVector(Params{"n_estimators": 1})
	assert.Error(t, err)
}

func TestFromUnitUpperEdge(t *testing.T) {
	b, err := NewBounds(Dimension{Name: "x", Lo: 0.3, Hi: 0.9})
	require.NoError(t, err)
	assert.Equal(t, 0.9, b.fromUnit([]float64{1})[0])
	assert.Equal(t, 0.3, b.fromUnit([]float64{0})[0])
	assert.Equal(t, 0.9, b.fromUnit([]float64{1.5})[0])

	// an increasing objective pushes the acquisition maximizer to u = 1
	opt, err := NewBayesianOptimizer(b, WithInitPoints(2), WithNIter(8), WithCandidates(200), WithSeed(5), quiet())
	require.NoError(t, err)
	best, err := opt.Maximize(func(p Params) float64 { return p["x"] })
	require.NoError(t, err)
	assert.Len(t, opt.History(), 10)
	assert.LessOrEqual(t, best.Params["x"], 0.9)
	for _, h := range opt.History() {
		assert.True(t, b.Contains(h.Params))
	}
}

func TestGaussianProcessInterpolates(t *testing.T) {
	x := [][]float64{{0}, {0.25}, {0.5}, {0.75}, {1}}
	y := []float64{0, 1, 0, -1, 0}
	gp := NewGaussianProcess()
	require.NoError(t, gp.Fit(x, y))

	for i := range x {
		mean, std := gp.Predict(x[i])
		assert.InDelta(t, y[i], mean, 1e-2)
		assert.Less(t, std, 1e-2)
	}
	_, farStd := gp.Predict([]float64{10})
	assert.Greater(t, farStd, 0.1)
	assert.Contains(t, DefaultLengthScales, gp.LengthScale())
	assert.False(t, math.IsInf(gp.LogMarginalLikelihood(), 0))

	assert.Error(t, gp.Fit(nil, nil))
	assert.Error(t, gp.Fit(x, y[:2]))
}

func TestGaussianProcessConstantTargets(t *testing.T) {
	gp := NewGaussianProcess()
	require.NoError(t, gp.Fit([][]float64{{0}, {1}}, []float64{3, 3}))
	mean, _ := gp.Predict([]float64{0})
	assert.InDelta(t, 3.0, mean, 1e-6)
}

func TestAcquisitions(t *testing.T) {
	ucb := NewUCB()
	assert.Equal(t, 2.576, ucb.Kappa)
	assert.InDelta(t, 1+2.576*0.5, ucb.Score(1, 0.5, 100), 1e-12)

	ei := NewEI()
	assert.Equal(t, 0.0, ei.Score(0, 0, 1))
	assert.Equal(t, 2.0, ei.Score(3, 0, 1))
	// mean == best: EI = std·φ(0)
	assert.InDelta(t, 1/math.Sqrt(2*math.Pi), ei.Score(1, 1, 1), 1e-12)
	assert.Greater(t, ei.Score(1, 2, 1), ei.Score(1, 1, 1))

	a, err := ParseAcquisition("ei")
	require.NoError(t, err)
	assert.Equal(t, "ei(xi=0)", a.String())
	_, err = ParseAcquisition("pi")
	assert.Error(t, err)
}

func TestOptimizerBudgetAndBest(t *testing.T) {
	b := boosterBox(t)
	opt, err := NewBayesianOptimizer(b, WithInitPoints(2), WithNIter(3), WithCandidates(500), WithSeed(1), quiet())
	require.NoError(t, err)
	assert.Equal(t, Initialized, opt.State())

	calls := 0
	objective := peak(b)
	best, err := opt.Maximize(func(p Params) float64 {
		calls++
		assert.True(t, b.Contains(p))
		return objective(p)
	})
	require.NoError(t, err)
	assert.Equal(t, 5, calls)
	assert.Equal(t, Converged, opt.State())

	history := opt.History()
	require.Len(t, history, 5)
	for i, h := range history {
		assert.Equal(t, i+1, h.Index)
		assert.GreaterOrEqual(t, best.Target, h.Target)
	}
	assert.Equal(t, "Probing", history[0].Phase)
	assert.Equal(t, "Probing", history[1].Phase)
	assert.Equal(t, "Optimizing", history[2].Phase)
	assert.Equal(t, 1, history[2].Iteration)
	assert.Equal(t, 3, history[4].Iteration)

	_, err = opt.Suggest()
	var se *errors.OptimizerStateError
	assert.True(t, errors.As(err, &se))
	err = opt.Observe(best.Params, 1)
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, Converged, opt.State())
}

func TestOptimizerDeterministic(t *testing.T) {
	b := boosterBox(t)
	run := func() []Observation {
		opt, err := NewBayesianOptimizer(b, WithInitPoints(3), WithNIter(4), WithCandidates(300), WithSeed(42), WithWorkers(2), quiet())
		require.NoError(t, err)
		_, err = opt.Maximize(peak(b))
		require.NoError(t, err)
		return opt.History()
	}
	assert.Equal(t, run(), run())
}

func TestOptimizerImprovesOnRandomStart(t *testing.T) {
	b := boosterBox(t)
	opt, err := NewBayesianOptimizer(b, WithInitPoints(5), WithNIter(15), WithCandidates(2000), WithSeed(3), WithAcquisition(NewEI()), quiet())
	require.NoError(t, err)
	best, err := opt.Maximize(peak(b))
	require.NoError(t, err)

	history := opt.History()
	bestRandom, meanRandom := math.Inf(-1), 0.0
	for _, h := range history[:5] {
		bestRandom = math.Max(bestRandom, h.Target)
		meanRandom += h.Target / 5
	}
	bestGuided := math.Inf(-1)
	for _, h := range history[5:] {
		bestGuided = math.Max(bestGuided, h.Target)
	}
	assert.GreaterOrEqual(t, best.Target, bestRandom)
	assert.Greater(t, bestGuided, meanRandom)
}

func TestBestPrefersEarliestOnTies(t *testing.T) {
	b, err := NewBounds(Dimension{Name: "x", Lo: 0, Hi: 1})
	require.NoError(t, err)
	opt, err := NewBayesianOptimizer(b, WithInitPoints(3), WithNIter(0), quiet())
	require.NoError(t, err)

	_, ok := opt.Best()
	assert.False(t, ok)

	require.NoError(t, opt.Observe(Params{"x": 0.1}, 0.5))
	assert.Equal(t, Probing, opt.State())
	require.NoError(t, opt.Observe(Params{"x": 0.2}, 0.9))
	require.NoError(t, opt.Observe(Params{"x": 0.3}, 0.9))
	assert.Equal(t, Converged, opt.State())

	best, ok := opt.Best()
	require.True(t, ok)
	assert.Equal(t, 0.2, best.Params["x"])
}

func TestObserveValidation(t *testing.T) {
	b, err := NewBounds(Dimension{Name: "x", Lo: 0, Hi: 1})
	require.NoError(t, err)
	opt, err := NewBayesianOptimizer(b, quiet())
	require.NoError(t, err)
	assert.Equal(t, 30, opt.Budget())

	var ve *errors.ValidationError
	assert.True(t, errors.As(opt.Observe(Params{"x": 2}, 0), &ve))
	assert.True(t, errors.As(opt.Observe(Params{"x": 0.5}, math.NaN()), &ve))
	assert.Error(t, opt.Observe(Params{"y": 0.5}, 0))
	assert.Empty(t, opt.History())

	_, err = NewBayesianOptimizer(b, WithInitPoints(0), WithNIter(0), quiet())
	assert.True(t, errors.As(err, &ve))
	_, err = NewBayesianOptimizer(nil)
	assert.Error(t, err)
}

func quietTPE() TPEOption {
	logger, _ := log.NewTestLogger(log.LevelError)
	return WithTPELogger(logger)
}

func TestTPEOptimizerBudgetAndBest(t *testing.T) {
	b := boosterBox(t)
	opt, err := NewTPEOptimizer(b, WithTPEInitPoints(2), WithTPENIter(3), WithTPESeed(1), quietTPE())
	require.NoError(t, err)
	assert.Equal(t, Initialized, opt.State())
	assert.Equal(t, 5, opt.Budget())

	calls := 0
	objective := peak(b)
	best, err := opt.Maximize(func(p Params) float64 {
		calls++
		assert.True(t, b.Contains(p))
		return objective(p)
	})
	require.NoError(t, err)
	assert.Equal(t, 5, calls)
	assert.Equal(t, Converged, opt.State())

	history := opt.History()
	require.Len(t, history, 5)
	for _, h := range history {
		assert.GreaterOrEqual(t, best.Target, h.Target)
	}
	assert.Equal(t, "Probing", history[1].Phase)
	assert.Equal(t, "Optimizing", history[2].Phase)

	_, err = opt.Suggest()
	var se *errors.OptimizerStateError
	assert.True(t, errors.As(err, &se))
}

func TestTPEOptimizerPendingPoint(t *testing.T) {
	b, err := NewBounds(Dimension{Name: "x", Lo: 0.3, Hi: 0.9})
	require.NoError(t, err)
	opt, err := NewTPEOptimizer(b, WithTPEInitPoints(1), WithTPENIter(1), WithTPESeed(3), quietTPE())
	require.NoError(t, err)
	defer opt.Close()

	p, err := opt.Suggest()
	require.NoError(t, err)
	assert.True(t, b.Contains(p))
	again, err := opt.Suggest()
	require.NoError(t, err)
	assert.Equal(t, p, again)
	assert.Equal(t, Probing, opt.State())

	other := Params{"x": 0.5}
	if p["x"] == 0.5 {
		other["x"] = 0.6
	}
	var se *errors.OptimizerStateError
	assert.True(t, errors.As(opt.Observe(other, 1), &se))
	assert.Empty(t, opt.History())

	require.NoError(t, opt.Observe(p, 0.4))
	q, err := opt.Suggest()
	require.NoError(t, err)
	require.NoError(t, opt.Observe(q, 0.7))
	assert.Equal(t, Converged, opt.State())

	best, ok := opt.Best()
	require.True(t, ok)
	assert.Equal(t, 0.7, best.Target)
}

func TestTPEOptimizerClose(t *testing.T) {
	b, err := NewBounds(Dimension{Name: "x", Lo: 0, Hi: 1})
	require.NoError(t, err)
	opt, err := NewTPEOptimizer(b, WithTPEInitPoints(2), WithTPENIter(2), quietTPE())
	require.NoError(t, err)

	p, err := opt.Suggest()
	require.NoError(t, err)
	require.NoError(t, opt.Close())
	require.NoError(t, opt.Close())
	assert.Error(t, opt.Observe(p, 0.5))

	_, err = NewTPEOptimizer(b, WithTPEInitPoints(0), WithTPENIter(0), quietTPE())
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindGP, k)
	k, err = ParseKind("tpe")
	require.NoError(t, err)
	assert.Equal(t, KindTPE, k)
	_, err = ParseKind("random")
	assert.Error(t, err)
}
