// Package strategy holds the trading strategies: edge-triggered spot signal
// generators and stateful options strategies bound to an adapter and a risk
// manager.
package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/eddiefleurent/threat_level_midnight/internal/indicators"
	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

// SpotResult is the per-bar output of a spot strategy. Signals is aligned to
// the input series; Indicators carries the named intermediate columns.
// Signals are edge-triggered: a value fires only on the bar where the
// crossover happens, never as a level.
type SpotResult struct {
	Signals    []int
	Indicators map[string][]float64
	Warning    string
}

// LastSignal returns the signal of the final bar; only that one is
// actionable in live mode.
func (r *SpotResult) LastSignal() int {
	if len(r.Signals) == 0 {
		return 0
	}
	return r.Signals[len(r.Signals)-1]
}

// SpotEntry is one registered spot strategy.
type SpotEntry struct {
	Description string
	Eval        func(s models.Series) *SpotResult
}

var spotRegistry = map[string]SpotEntry{
	"sma_crossover": {
		"SMA crossover: buy when fast SMA crosses above slow SMA",
		func(s models.Series) *SpotResult { return SMACrossover(s, SMACrossoverParams{}) },
	},
	"ema_crossover": {
		"EMA crossover: faster response than SMA crossover",
		func(s models.Series) *SpotResult { return EMACrossover(s, EMACrossoverParams{}) },
	},
	"rsi": {
		"RSI: buy at oversold recovery, sell at overbought breakdown",
		func(s models.Series) *SpotResult { return RSIStrategy(s, RSIParams{}) },
	},
	"bollinger_bands": {
		"Bollinger bands: mean reversion at band touches",
		func(s models.Series) *SpotResult { return BollingerStrategy(s, BollingerParams{}) },
	},
	"macd": {
		"MACD: buy/sell on MACD line crossing the signal line",
		func(s models.Series) *SpotResult { return MACDStrategy(s, MACDParams{}) },
	},
	"mean_reversion": {
		"Mean reversion: trade z-score excursions from the rolling mean",
		func(s models.Series) *SpotResult { return MeanReversion(s, MeanReversionParams{}) },
	},
	"momentum": {
		"Momentum: buy on strong ROC breakouts, sell on reversals",
		func(s models.Series) *SpotResult { return Momentum(s, MomentumParams{}) },
	},
	"volume_weighted": {
		"Volume-weighted: SMA cross confirmed by elevated volume",
		func(s models.Series) *SpotResult { return VolumeWeighted(s, VolumeWeightedParams{}) },
	},
	"triple_ema": {
		"Triple EMA: trend confirmation via short/mid/long alignment",
		func(s models.Series) *SpotResult { return TripleEMA(s, TripleEMAParams{}) },
	},
	"rsi_macd_combo": {
		"RSI+MACD combo: dual confirmation for higher quality signals",
		func(s models.Series) *SpotResult { return RSIMACDCombo(s, RSIMACDComboParams{}) },
	},
	"pairs_spread": {
		"Pairs/spread: z-score of the price ratio to a second asset",
		func(s models.Series) *SpotResult { return PairsSpread(s, nil, PairsSpreadParams{}) },
	},
}

// SpotStrategies lists the registered spot strategy names, sorted.
func SpotStrategies() []string {
	names := make([]string, 0, len(spotRegistry))
	for name := range spotRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSpot looks up a registered spot strategy by name.
func GetSpot(name string) (SpotEntry, error) {
	e, ok := spotRegistry[name]
	if !ok {
		return SpotEntry{}, fmt.Errorf("unknown strategy %q, available: %v", name, SpotStrategies())
	}
	return e, nil
}

// ApplySpot runs a registered spot strategy with its default parameters.
func ApplySpot(name string, s models.Series) (*SpotResult, error) {
	e, err := GetSpot(name)
	if err != nil {
		return nil, err
	}
	return e.Eval(s), nil
}

func newResult(n int) *SpotResult {
	return &SpotResult{
		Signals:    make([]int, n),
		Indicators: map[string][]float64{},
	}
}

func def(v float64) bool { return indicators.Defined(v) }

// crossSignals emits +1 on the bar where fast crosses above slow and -1
// where it crosses back below (a position diff, not a level).
func crossSignals(fast, slow []float64) []int {
	out := make([]int, len(fast))
	prev := 0
	for i := range fast {
		if !def(fast[i]) || !def(slow[i]) {
			continue
		}
		pos := 0
		if fast[i] > slow[i] {
			pos = 1
		}
		if pos != prev {
			out[i] = pos - prev
		}
		prev = pos
	}
	return out
}

// SMACrossoverParams configures SMACrossover. Zero values take defaults.
type SMACrossoverParams struct {
	FastPeriod int
	SlowPeriod int
}

func (p SMACrossoverParams) norm() SMACrossoverParams {
	if p.FastPeriod == 0 {
		p.FastPeriod = 20
	}
	if p.SlowPeriod == 0 {
		p.SlowPeriod = 50
	}
	return p
}

// SMACrossover buys when the fast SMA crosses above the slow SMA.
func SMACrossover(s models.Series, p SMACrossoverParams) *SpotResult {
	p = p.norm()
	closes := s.Closes()
	r := newResult(len(s))
	fast := indicators.SMA(closes, p.FastPeriod)
	slow := indicators.SMA(closes, p.SlowPeriod)
	r.Indicators["sma_fast"] = fast
	r.Indicators["sma_slow"] = slow
	r.Signals = crossSignals(fast, slow)
	return r
}

// EMACrossoverParams configures EMACrossover.
type EMACrossoverParams struct {
	FastPeriod int
	SlowPeriod int
}

func (p EMACrossoverParams) norm() EMACrossoverParams {
	if p.FastPeriod == 0 {
		p.FastPeriod = 12
	}
	if p.SlowPeriod == 0 {
		p.SlowPeriod = 26
	}
	return p
}

// EMACrossover buys when the fast EMA crosses above the slow EMA.
func EMACrossover(s models.Series, p EMACrossoverParams) *SpotResult {
	p = p.norm()
	closes := s.Closes()
	r := newResult(len(s))
	fast := indicators.EMA(closes, p.FastPeriod)
	slow := indicators.EMA(closes, p.SlowPeriod)
	r.Indicators["ema_fast"] = fast
	r.Indicators["ema_slow"] = slow
	r.Signals = crossSignals(fast, slow)
	return r
}

// RSIParams configures RSIStrategy.
type RSIParams struct {
	Period     int
	Overbought float64
	Oversold   float64
}

func (p RSIParams) norm() RSIParams {
	if p.Period == 0 {
		p.Period = 14
	}
	if p.Overbought == 0 {
		p.Overbought = 70
	}
	if p.Oversold == 0 {
		p.Oversold = 30
	}
	return p
}

// RSIStrategy buys when RSI crosses up through oversold and sells when it
// crosses down through overbought.
func RSIStrategy(s models.Series, p RSIParams) *SpotResult {
	p = p.norm()
	closes := s.Closes()
	r := newResult(len(s))
	rsi := indicators.RSI(closes, p.Period)
	r.Indicators["rsi"] = rsi
	for i := 1; i < len(rsi); i++ {
		if !def(rsi[i]) || !def(rsi[i-1]) {
			continue
		}
		if rsi[i] > p.Oversold && rsi[i-1] <= p.Oversold {
			r.Signals[i] = 1
		} else if rsi[i] < p.Overbought && rsi[i-1] >= p.Overbought {
			r.Signals[i] = -1
		}
	}
	return r
}

// BollingerParams configures BollingerStrategy.
type BollingerParams struct {
	Period int
	NumStd float64
}

func (p BollingerParams) norm() BollingerParams {
	if p.Period == 0 {
		p.Period = 20
	}
	if p.NumStd == 0 {
		p.NumStd = 2.0
	}
	return p
}

// BollingerStrategy buys when the close crosses back up through the lower
// band and sells at the symmetric upper-band cross.
func BollingerStrategy(s models.Series, p BollingerParams) *SpotResult {
	p = p.norm()
	closes := s.Closes()
	r := newResult(len(s))
	mid, upper, lower := indicators.Bollinger(closes, p.Period, p.NumStd)
	r.Indicators["bb_middle"] = mid
	r.Indicators["bb_upper"] = upper
	r.Indicators["bb_lower"] = lower
	for i := 1; i < len(closes); i++ {
		if !def(lower[i]) || !def(lower[i-1]) {
			continue
		}
		if closes[i] > lower[i] && closes[i-1] <= lower[i-1] {
			r.Signals[i] = 1
		} else if closes[i] < upper[i] && closes[i-1] >= upper[i-1] {
			r.Signals[i] = -1
		}
	}
	return r
}

// MACDParams configures MACDStrategy.
type MACDParams struct {
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
}

func (p MACDParams) norm() MACDParams {
	if p.FastPeriod == 0 {
		p.FastPeriod = 12
	}
	if p.SlowPeriod == 0 {
		p.SlowPeriod = 26
	}
	if p.SignalPeriod == 0 {
		p.SignalPeriod = 9
	}
	return p
}

// MACDStrategy trades MACD line crossings of the signal line.
func MACDStrategy(s models.Series, p MACDParams) *SpotResult {
	p = p.norm()
	closes := s.Closes()
	r := newResult(len(s))
	macd, signal, hist := indicators.MACD(closes, p.FastPeriod, p.SlowPeriod, p.SignalPeriod)
	r.Indicators["macd_line"] = macd
	r.Indicators["macd_signal"] = signal
	r.Indicators["macd_hist"] = hist
	r.Signals = crossSignals(macd, signal)
	return r
}

// MeanReversionParams configures MeanReversion.
type MeanReversionParams struct {
	Lookback int
	EntryStd float64
	ExitStd  float64
}

func (p MeanReversionParams) norm() MeanReversionParams {
	if p.Lookback == 0 {
		p.Lookback = 30
	}
	if p.EntryStd == 0 {
		p.EntryStd = 1.5
	}
	if p.ExitStd == 0 {
		p.ExitStd = 0.5
	}
	return p
}

// MeanReversion buys when the z-score crosses up through -entryStd and
// sells when it crosses down through +exitStd.
func MeanReversion(s models.Series, p MeanReversionParams) *SpotResult {
	p = p.norm()
	closes := s.Closes()
	r := newResult(len(s))
	z := indicators.ZScore(closes, p.Lookback)
	r.Indicators["z_score"] = z
	for i := 1; i < len(z); i++ {
		if !def(z[i]) || !def(z[i-1]) {
			continue
		}
		if z[i] > -p.EntryStd && z[i-1] <= -p.EntryStd {
			r.Signals[i] = 1
		} else if z[i] < p.ExitStd && z[i-1] >= p.ExitStd {
			r.Signals[i] = -1
		}
	}
	return r
}

// MomentumParams configures Momentum.
type MomentumParams struct {
	ROCPeriod int
	Threshold float64
}

func (p MomentumParams) norm() MomentumParams {
	if p.ROCPeriod == 0 {
		p.ROCPeriod = 14
	}
	if p.Threshold == 0 {
		p.Threshold = 5.0
	}
	return p
}

// Momentum buys when ROC crosses above the threshold and sells when it
// crosses below the negated threshold.
func Momentum(s models.Series, p MomentumParams) *SpotResult {
	p = p.norm()
	closes := s.Closes()
	r := newResult(len(s))
	roc := indicators.ROC(closes, p.ROCPeriod)
	r.Indicators["roc"] = roc
	for i := 1; i < len(roc); i++ {
		if !def(roc[i]) || !def(roc[i-1]) {
			continue
		}
		if roc[i] > p.Threshold && roc[i-1] <= p.Threshold {
			r.Signals[i] = 1
		} else if roc[i] < -p.Threshold && roc[i-1] >= -p.Threshold {
			r.Signals[i] = -1
		}
	}
	return r
}

// VolumeWeightedParams configures VolumeWeighted.
type VolumeWeightedParams struct {
	SMAPeriod     int
	VolMultiplier float64
}

func (p VolumeWeightedParams) norm() VolumeWeightedParams {
	if p.SMAPeriod == 0 {
		p.SMAPeriod = 20
	}
	if p.VolMultiplier == 0 {
		p.VolMultiplier = 1.5
	}
	return p
}

// VolumeWeighted trades SMA crosses only when volume runs above its own SMA
// by the configured multiplier.
func VolumeWeighted(s models.Series, p VolumeWeightedParams) *SpotResult {
	p = p.norm()
	closes := s.Closes()
	volumes := s.Volumes()
	r := newResult(len(s))
	priceSMA := indicators.SMA(closes, p.SMAPeriod)
	volSMA := indicators.SMA(volumes, p.SMAPeriod)
	r.Indicators["price_sma"] = priceSMA
	r.Indicators["vol_sma"] = volSMA
	for i := 1; i < len(closes); i++ {
		if !def(priceSMA[i]) || !def(priceSMA[i-1]) || !def(volSMA[i]) {
			continue
		}
		highVolume := volumes[i] > volSMA[i]*p.VolMultiplier
		if !highVolume {
			continue
		}
		if closes[i] > priceSMA[i] && closes[i-1] <= priceSMA[i-1] {
			r.Signals[i] = 1
		} else if closes[i] < priceSMA[i] && closes[i-1] >= priceSMA[i-1] {
			r.Signals[i] = -1
		}
	}
	return r
}

// TripleEMAParams configures TripleEMA.
type TripleEMAParams struct {
	ShortPeriod int
	MidPeriod   int
	LongPeriod  int
}

func (p TripleEMAParams) norm() TripleEMAParams {
	if p.ShortPeriod == 0 {
		p.ShortPeriod = 8
	}
	if p.MidPeriod == 0 {
		p.MidPeriod = 21
	}
	if p.LongPeriod == 0 {
		p.LongPeriod = 55
	}
	return p
}

// TripleEMA fires when the short > mid > long alignment toggles.
func TripleEMA(s models.Series, p TripleEMAParams) *SpotResult {
	p = p.norm()
	closes := s.Closes()
	r := newResult(len(s))
	short := indicators.EMA(closes, p.ShortPeriod)
	mid := indicators.EMA(closes, p.MidPeriod)
	long := indicators.EMA(closes, p.LongPeriod)
	r.Indicators["ema_short"] = short
	r.Indicators["ema_mid"] = mid
	r.Indicators["ema_long"] = long
	prev := 0
	for i := range closes {
		if !def(short[i]) || !def(mid[i]) || !def(long[i]) {
			continue
		}
		pos := 0
		if short[i] > mid[i] && mid[i] > long[i] {
			pos = 1
		}
		if pos != prev {
			r.Signals[i] = pos - prev
		}
		prev = pos
	}
	return r
}

// RSIMACDComboParams configures RSIMACDCombo.
type RSIMACDComboParams struct {
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
}

func (p RSIMACDComboParams) norm() RSIMACDComboParams {
	if p.RSIPeriod == 0 {
		p.RSIPeriod = 14
	}
	if p.MACDFast == 0 {
		p.MACDFast = 12
	}
	if p.MACDSlow == 0 {
		p.MACDSlow = 26
	}
	if p.MACDSignal == 0 {
		p.MACDSignal = 9
	}
	return p
}

// RSIMACDCombo requires a MACD cross confirmed by RSI on the right side of
// 50: bullish cross with RSI < 50 buys, bearish cross with RSI > 50 sells.
func RSIMACDCombo(s models.Series, p RSIMACDComboParams) *SpotResult {
	p = p.norm()
	closes := s.Closes()
	r := newResult(len(s))
	rsi := indicators.RSI(closes, p.RSIPeriod)
	macd, signal, _ := indicators.MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	r.Indicators["rsi"] = rsi
	r.Indicators["macd_line"] = macd
	r.Indicators["macd_signal"] = signal
	for i := 1; i < len(closes); i++ {
		if !def(macd[i]) || !def(signal[i]) || !def(macd[i-1]) || !def(signal[i-1]) || !def(rsi[i]) {
			continue
		}
		bullCross := macd[i] > signal[i] && macd[i-1] <= signal[i-1]
		bearCross := macd[i] < signal[i] && macd[i-1] >= signal[i-1]
		if bullCross && rsi[i] < 50 {
			r.Signals[i] = 1
		} else if bearCross && rsi[i] > 50 {
			r.Signals[i] = -1
		}
	}
	return r
}

// PairsSpreadParams configures PairsSpread.
type PairsSpreadParams struct {
	Lookback int
	EntryZ   float64
	ExitZ    float64
}

func (p PairsSpreadParams) norm() PairsSpreadParams {
	if p.Lookback == 0 {
		p.Lookback = 30
	}
	if p.EntryZ == 0 {
		p.EntryZ = 2.0
	}
	if p.ExitZ == 0 {
		p.ExitZ = 0.5
	}
	return p
}

// PairsSpread trades the z-score of the close/closeB ratio. With no second
// series it degrades to self-mean-reversion on the close and flags the
// degradation in the result warning.
func PairsSpread(s models.Series, closeB []float64, p PairsSpreadParams) *SpotResult {
	p = p.norm()
	closes := s.Closes()
	r := newResult(len(s))

	spread := make([]float64, len(closes))
	if len(closeB) == len(closes) && len(closeB) > 0 {
		for i := range closes {
			if closeB[i] != 0 {
				spread[i] = closes[i] / closeB[i]
			} else {
				spread[i] = math.NaN()
			}
		}
	} else {
		copy(spread, closes)
		r.Warning = "pairs_spread: no second series, degrading to self-mean-reversion"
	}

	z := indicators.ZScore(spread, p.Lookback)
	r.Indicators["spread"] = spread
	r.Indicators["z_score"] = z
	for i := 1; i < len(z); i++ {
		if !def(z[i]) || !def(z[i-1]) {
			continue
		}
		if z[i] > -p.EntryZ && z[i-1] <= -p.EntryZ {
			r.Signals[i] = 1
		} else if z[i] < p.ExitZ && z[i-1] >= p.ExitZ {
			r.Signals[i] = -1
		}
	}
	return r
}
