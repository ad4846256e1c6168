package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantile(t *testing.T) {
	x := []float64{4, 1, 3, 2}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.25, 1.75},
		{0.5, 2.5},
		{0.75, 3.25},
		{1, 4},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Quantile(tt.p, x), 1e-12, "p=%v", tt.p)
	}
	assert.Equal(t, []float64{4, 1, 3, 2}, x)
}

func TestQuantileEdgeCases(t *testing.T) {
	assert.True(t, math.IsNaN(Quantile(0.5, nil)))
	assert.Equal(t, 7.0, Quantile(0.3, []float64{7}))
	assert.InDelta(t, 9.25, QuantileSorted(0.925, []float64{0, 10}), 1e-12)
}
