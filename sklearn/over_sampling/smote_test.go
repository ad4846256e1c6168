package over_sampling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabetesml/core/model"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
)

var _ model.Resampler = (*SMOTE)(nil)

func quietLogger() SMOTEOption {
	logger, _ := log.NewTestLogger(log.LevelError)
	return WithSMOTELogger(logger)
}

func imbalanced() (*mat.Dense, []float64) {
	X := mat.NewDense(10, 2, []float64{
		0, 0,
		0.1, 0.2,
		0.3, 0.1,
		0.2, 0.4,
		0.5, 0.5,
		0.4, 0.3,
		0.6, 0.1,
		5, 5,
		5.5, 5.2,
		5.1, 6,
	})
	y := []float64{0, 0, 0, 0, 0, 0, 0, 1, 1, 1}
	return X, y
}

func TestSMOTEBalancesClasses(t *testing.T) {
	X, y := imbalanced()
	Xr, yr, err := NewSMOTE(WithSMOTERandomState(42), quietLogger()).FitResample(X, y)
	require.NoError(t, err)

	r, c := Xr.Dims()
	assert.Equal(t, 14, r)
	assert.Equal(t, 2, c)
	assert.Len(t, yr, 14)

	counts := map[float64]int{}
	for _, v := range yr {
		counts[v]++
	}
	assert.Equal(t, 7, counts[0])
	assert.Equal(t, 7, counts[1])

	// Originals come first, unchanged.
	assert.True(t, mat.Equal(X, Xr.Slice(0, 10, 0, 2)))
	assert.Equal(t, y, yr[:10])

	// Synthetic minority rows lie inside the minority bounding box.
	for i := 10; i < r; i++ {
		assert.Equal(t, 1.0, yr[i])
		assert.GreaterOrEqual(t, Xr.At(i, 0), 5.0)
		assert.LessOrEqual(t, Xr.At(i, 0), 5.5)
		assert.GreaterOrEqual(t, Xr.At(i, 1), 5.0)
		assert.LessOrEqual(t, Xr.At(i, 1), 6.0)
	}
}

func TestSMOTEDeterministic(t *testing.T) {
	X, y := imbalanced()
	a, ya, err := NewSMOTE(WithSMOTERandomState(7), quietLogger()).FitResample(X, y)
	require.NoError(t, err)
	b, yb, err := NewSMOTE(WithSMOTERandomState(7), quietLogger()).FitResample(X, y)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a, b))
	assert.Equal(t, ya, yb)
}

func TestSMOTESingleMemberClassIsDuplicated(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 2, 9})
	y := []float64{0, 0, 0, 1}
	Xr, yr, err := NewSMOTE(quietLogger()).FitResample(X, y)
	require.NoError(t, err)
	require.Len(t, yr, 6)
	assert.Equal(t, 9.0, Xr.At(4, 0))
	assert.Equal(t, 9.0, Xr.At(5, 0))
}

func TestSMOTEClampsNeighbours(t *testing.T) {
	// Two minority rows with k=5: each can only pair with the other.
	X := mat.NewDense(6, 1, []float64{0, 1, 2, 3, 10, 20})
	y := []float64{0, 0, 0, 0, 1, 1}
	Xr, yr, err := NewSMOTE(WithSMOTERandomState(3), quietLogger()).FitResample(X, y)
	require.NoError(t, err)
	require.Len(t, yr, 8)
	for i := 6; i < 8; i++ {
		assert.GreaterOrEqual(t, Xr.At(i, 0), 10.0)
		assert.LessOrEqual(t, Xr.At(i, 0), 20.0)
	}
}

func TestSMOTEAlreadyBalanced(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := []float64{0, 1, 0, 1}
	Xr, yr, err := NewSMOTE(quietLogger()).FitResample(X, y)
	require.NoError(t, err)
	assert.True(t, mat.Equal(X, Xr))
	assert.Equal(t, y, yr)
}

func TestSMOTEErrors(t *testing.T) {
	X, y := imbalanced()

	_, _, err := NewSMOTE(WithSMOTEKNeighbors(0), quietLogger()).FitResample(X, y)
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, _, err = NewSMOTE(quietLogger()).FitResample(X, y[:3])
	assert.Error(t, err)

	params := NewSMOTE(quietLogger()).GetParams()
	assert.Equal(t, 5, params["k_neighbors"])
}
