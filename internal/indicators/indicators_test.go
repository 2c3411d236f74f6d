package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	out := SMA(values, 3)

	assert.False(t, Defined(out[0]))
	assert.False(t, Defined(out[1]))
	assert.InDelta(t, 2, out[2], 1e-12)
	assert.InDelta(t, 3, out[3], 1e-12)
	assert.InDelta(t, 4, out[4], 1e-12)
}

func TestSMAShortInput(t *testing.T) {
	out := SMA([]float64{1, 2}, 5)
	require.Len(t, out, 2)
	for _, v := range out {
		assert.False(t, Defined(v))
	}
}

func TestEMASeededWithSMA(t *testing.T) {
	values := []float64{2, 4, 6, 8, 10}
	out := EMA(values, 3)

	assert.False(t, Defined(out[1]))
	assert.InDelta(t, 4, out[2], 1e-12) // seed = mean of first three
	// alpha = 0.5: 0.5*8 + 0.5*4 = 6
	assert.InDelta(t, 6, out[3], 1e-12)
	assert.InDelta(t, 8, out[4], 1e-12)
}

func TestRSIBounds(t *testing.T) {
	up := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	out := RSI(up, 5)
	assert.InDelta(t, 100, out[len(out)-1], 1e-12)

	down := []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	out = RSI(down, 5)
	assert.InDelta(t, 0, out[len(out)-1], 1e-12)
}

func TestRSIWarmup(t *testing.T) {
	values := []float64{44, 44.3, 44.1, 43.6, 44.3, 44.8, 45.1, 45.4, 45.8, 46.1}
	out := RSI(values, 5)
	for i := 0; i < 5; i++ {
		assert.False(t, Defined(out[i]), "index %d", i)
	}
	for i := 5; i < len(out); i++ {
		require.True(t, Defined(out[i]))
		assert.GreaterOrEqual(t, out[i], 0.0)
		assert.LessOrEqual(t, out[i], 100.0)
	}
}

func TestBollingerBandOrdering(t *testing.T) {
	values := []float64{10, 11, 12, 11, 10, 11, 12, 13, 12, 11}
	mid, upper, lower := Bollinger(values, 5, 2)
	for i := 4; i < len(values); i++ {
		require.True(t, Defined(mid[i]))
		assert.Greater(t, upper[i], mid[i])
		assert.Less(t, lower[i], mid[i])
		assert.InDelta(t, mid[i]-lower[i], upper[i]-mid[i], 1e-12)
	}
}

func TestMACDConvergesOnTrend(t *testing.T) {
	// A long flat series makes both EMAs equal, so MACD approaches zero.
	values := make([]float64, 60)
	for i := range values {
		values[i] = 100
	}
	macd, signal, hist := MACD(values, 12, 26, 9)
	last := len(values) - 1
	require.True(t, Defined(macd[last]))
	assert.InDelta(t, 0, macd[last], 1e-9)
	assert.InDelta(t, 0, signal[last], 1e-9)
	assert.InDelta(t, 0, hist[last], 1e-9)
}

func TestROC(t *testing.T) {
	values := []float64{100, 102, 104, 110}
	out := ROC(values, 2)
	assert.False(t, Defined(out[1]))
	assert.InDelta(t, 4, out[2], 1e-12)             // 104 vs 100
	assert.InDelta(t, 110.0/102*100-100, out[3], 1e-9) // 110 vs 102
}

func TestZScoreCentering(t *testing.T) {
	values := []float64{10, 10, 10, 10, 20}
	out := ZScore(values, 5)
	// The spike sits above the window mean.
	require.True(t, Defined(out[4]))
	assert.Greater(t, out[4], 1.0)
}

func TestATR(t *testing.T) {
	bars := models.Series{
		{High: 12, Low: 10, Close: 11},
		{High: 13, Low: 11, Close: 12},
		{High: 14, Low: 12, Close: 13},
	}
	out := ATR(bars, 3)
	require.True(t, Defined(out[2]))
	assert.InDelta(t, 2, out[2], 1e-12)
}

func TestWilderEMAFlat(t *testing.T) {
	values := []float64{5, 5, 5, 5, 5, 5}
	out := WilderEMA(values, 3)
	assert.InDelta(t, 5, out[len(out)-1], 1e-12)
}

func TestDefined(t *testing.T) {
	assert.True(t, Defined(0))
	assert.True(t, Defined(-1.5))
	assert.False(t, Defined(math.NaN()))
}
