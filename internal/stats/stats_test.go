package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean(t *testing.T) {
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))
	assert.True(t, math.IsNaN(Mean(nil)))
}

func TestStdDev_Sample(t *testing.T) {
	// values 2,4,4,4,5,5,7,9: population sd 2, sample sd sqrt(32/7)
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, math.Sqrt(32.0/7.0), got, 1e-12)
	assert.True(t, math.IsNaN(StdDev([]float64{5})))
}

func TestQuantile_LinearInterpolation(t *testing.T) {
	xs := []float64{4, 1, 3, 2}
	assert.Equal(t, 2.5, Median(xs))
	assert.Equal(t, 3.25, Quantile(xs, 0.75))
	assert.Equal(t, 1.0, Quantile(xs, 0))
	assert.Equal(t, 4.0, Quantile(xs, 1))
	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))
	assert.Equal(t, []float64{4, 1, 3, 2}, xs, "input must not be reordered")
}

func TestPearson(t *testing.T) {
	assert.InDelta(t, 1.0, Pearson([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-12)
	assert.InDelta(t, -1.0, Pearson([]float64{1, 2, 3}, []float64{3, 2, 1}), 1e-12)
	assert.True(t, math.IsNaN(Pearson([]float64{1}, []float64{1})))
	assert.True(t, math.IsNaN(Pearson([]float64{1, 1, 1}, []float64{1, 2, 3})))
	assert.True(t, math.IsNaN(Pearson([]float64{1, 2}, []float64{1})))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 66.67, Round(200.0/3.0, 2))
	assert.Equal(t, 0.667, Round(2.0/3.0, 3))
	assert.Equal(t, 2.0, Round(2.5, 0))
	assert.Equal(t, 4.0, Round(3.5, 0))
	assert.Equal(t, -25.0, Round(-25.0, 2))
	assert.True(t, math.IsNaN(Round(math.NaN(), 2)))
}

func TestMinMax(t *testing.T) {
	assert.Equal(t, 9.0, Max([]float64{3, 9, -1}))
	assert.Equal(t, -1.0, Min([]float64{3, 9, -1}))
	assert.True(t, math.IsNaN(Max(nil)))
}

func TestMinMax_IgnoresNaN(t *testing.T) {
	xs := []float64{math.NaN(), 4, 1, math.NaN()}
	assert.Equal(t, 4.0, Max(xs))
	assert.Equal(t, 1.0, Min(xs))
	assert.True(t, math.IsNaN(Min(nil)))
}

func TestSum(t *testing.T) {
	assert.Equal(t, 6.0, Sum([]float64{1, 2, 3}))
	assert.Zero(t, Sum(nil))
}
