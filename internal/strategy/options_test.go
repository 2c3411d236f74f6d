package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeIVRankNeutralOnShortHistory(t *testing.T) {
	assert.InDelta(t, 50, ComputeIVRank(nil, 14), 1e-12)
	assert.InDelta(t, 50, ComputeIVRank([]float64{0.01}, 14), 1e-12)
}

func TestComputeIVRankHighWhenRecentVolSpikes(t *testing.T) {
	var returns []float64
	for i := 0; i < 30; i++ {
		returns = append(returns, 0.001*float64(1-2*(i%2))) // quiet
	}
	for i := 0; i < 10; i++ {
		returns = append(returns, 0.05*float64(1-2*(i%2))) // loud
	}
	rank := ComputeIVRank(returns, 10)
	assert.InDelta(t, 100, rank, 1e-9)
}

func TestComputeIVRankLowWhenRecentVolCollapses(t *testing.T) {
	var returns []float64
	for i := 0; i < 30; i++ {
		returns = append(returns, 0.05*float64(1-2*(i%2)))
	}
	for i := 0; i < 10; i++ {
		returns = append(returns, 0.001*float64(1-2*(i%2)))
	}
	rank := ComputeIVRank(returns, 10)
	assert.InDelta(t, 0, rank, 1e-9)
}

func TestComputeIVRankRatioFallback(t *testing.T) {
	// Too short for rolling windows; a homogeneous series ranks neutral.
	var returns []float64
	for i := 0; i < 15; i++ {
		returns = append(returns, 0.02*float64(1-2*(i%2)))
	}
	rank := ComputeIVRank(returns, 10)
	assert.InDelta(t, 50, rank, 1.0)
}

func TestPriceReturns(t *testing.T) {
	out := priceReturns([]float64{100, 110, 99})
	require.Len(t, out, 2)
	assert.InDelta(t, 0.10, out[0], 1e-12)
	assert.InDelta(t, -0.10, out[1], 1e-12)
}
