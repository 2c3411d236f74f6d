package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

func seriesFromCloses(closes []float64) models.Series {
	s := make(models.Series, len(closes))
	for i, c := range closes {
		s[i] = models.Bar{
			Timestamp: int64(i) * 3_600_000,
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    100,
		}
	}
	return s
}

// rampCloses walks 100 -> 110 -> 100 in unit steps.
func rampCloses() []float64 {
	var closes []float64
	for c := 100.0; c <= 110; c++ {
		closes = append(closes, c)
	}
	for c := 109.0; c >= 100; c-- {
		closes = append(closes, c)
	}
	return closes
}

func TestSMACrossoverSingleRoundTrip(t *testing.T) {
	s := seriesFromCloses(rampCloses())
	r := SMACrossover(s, SMACrossoverParams{FastPeriod: 3, SlowPeriod: 5})

	var buys, sells []int
	for i, sig := range r.Signals {
		switch sig {
		case 1:
			buys = append(buys, i)
		case -1:
			sells = append(sells, i)
		}
	}
	require.Len(t, buys, 1, "exactly one buy signal")
	require.Len(t, sells, 1, "exactly one sell signal")
	assert.Less(t, buys[0], sells[0])

	// Everything else is flat.
	for i, sig := range r.Signals {
		if i != buys[0] && i != sells[0] {
			assert.Zero(t, sig, "bar %d", i)
		}
	}
}

func TestCrossoverEdgeTriggered(t *testing.T) {
	// A sustained uptrend keeps fast above slow; the signal must fire on
	// the crossing bar only, never as a level.
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	r := SMACrossover(seriesFromCloses(closes), SMACrossoverParams{FastPeriod: 3, SlowPeriod: 5})

	buys := 0
	for _, sig := range r.Signals {
		if sig == 1 {
			buys++
		}
	}
	assert.Equal(t, 1, buys)
}

func TestRSIStrategySignals(t *testing.T) {
	// Crash then recover: RSI dips below oversold and crosses back up.
	var closes []float64
	for c := 100.0; c >= 80; c -= 2 {
		closes = append(closes, c)
	}
	for c := 82.0; c <= 100; c += 2 {
		closes = append(closes, c)
	}
	r := RSIStrategy(seriesFromCloses(closes), RSIParams{Period: 5})

	sawBuy := false
	for _, sig := range r.Signals {
		if sig == 1 {
			sawBuy = true
		}
	}
	assert.True(t, sawBuy, "recovery through oversold should emit a buy")
}

func TestMomentumThresholdCross(t *testing.T) {
	// Flat then a sharp +10% move inside the ROC window.
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	for i := 20; i < 30; i++ {
		closes[i] = 100 + float64(i-19)*1.5
	}
	r := Momentum(seriesFromCloses(closes), MomentumParams{ROCPeriod: 5, Threshold: 5})

	buys := 0
	for _, sig := range r.Signals {
		if sig == 1 {
			buys++
		}
	}
	assert.Equal(t, 1, buys, "one edge-triggered buy on the breakout")
}

func TestMeanReversionZScore(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i%3) // mild noise
	}
	// Blowout above the rolling mean, then snap back through the exit band.
	closes[34], closes[35] = 130, 130
	closes[36], closes[37], closes[38], closes[39] = 100, 100, 100, 100

	r := MeanReversion(seriesFromCloses(closes), MeanReversionParams{})
	sawSell := false
	for _, sig := range r.Signals {
		if sig == -1 {
			sawSell = true
		}
	}
	assert.True(t, sawSell, "snap-back through the exit band should emit a sell")
}

func TestPairsSpreadRequiresSecondSeries(t *testing.T) {
	s := seriesFromCloses(rampCloses())
	r := PairsSpread(s, nil, PairsSpreadParams{})
	assert.NotEmpty(t, r.Warning)
	assert.Zero(t, r.LastSignal())
}

func TestApplySpotUnknownStrategy(t *testing.T) {
	_, err := ApplySpot("no_such_strategy", seriesFromCloses(rampCloses()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown strategy")
}

func TestSpotRegistryComplete(t *testing.T) {
	names := SpotStrategies()
	assert.Len(t, names, 11)
	for _, name := range names {
		entry, err := GetSpot(name)
		require.NoError(t, err)
		assert.NotEmpty(t, entry.Description)
		assert.NotNil(t, entry.Eval)
	}
}

func TestLastSignalEmpty(t *testing.T) {
	r := &SpotResult{}
	assert.Zero(t, r.LastSignal())
}
