// Package indicators provides pure technical indicators over ordered
// float64 series. Every function returns a slice aligned to its input;
// positions before the warmup window are NaN.
package indicators

import (
	"math"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

// Defined reports whether the value at an index is past its warmup window.
func Defined(v float64) bool {
	return !math.IsNaN(v)
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA is the simple moving average over period bars.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA is the exponential moving average with alpha = 2/(period+1), seeded
// with the SMA of the first period values.
func EMA(values []float64, period int) []float64 {
	return ema(values, period, 2/(float64(period)+1))
}

// WilderEMA uses alpha = 1/period (RSI and ATR smoothing).
func WilderEMA(values []float64, period int) []float64 {
	return ema(values, period, 1/float64(period))
}

func ema(values []float64, period int, alpha float64) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)
	out[period-1] = seed
	prev := seed
	for i := period; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// RollingStd is the rolling sample standard deviation over period bars.
func RollingStd(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 1 || len(values) < period {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		window := values[i-period+1 : i+1]
		var mean float64
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		var ss float64
		for _, v := range window {
			d := v - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(period-1))
	}
	return out
}

// RSI is the relative strength index with Wilder smoothing.
func RSI(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)
	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD returns the MACD line (emaFast - emaSlow), its signal EMA, and the
// histogram (macd - signal).
func MACD(values []float64, fast, slow, signal int) (macd, signalLine, hist []float64) {
	emaFast := EMA(values, fast)
	emaSlow := EMA(values, slow)
	macd = nanSlice(len(values))
	for i := range values {
		if Defined(emaFast[i]) && Defined(emaSlow[i]) {
			macd[i] = emaFast[i] - emaSlow[i]
		}
	}
	// The signal EMA runs over the defined suffix of the MACD line.
	start := 0
	for start < len(macd) && !Defined(macd[start]) {
		start++
	}
	signalLine = nanSlice(len(values))
	if start < len(macd) {
		sub := ema(macd[start:], signal, 2/(float64(signal)+1))
		copy(signalLine[start:], sub)
	}
	hist = nanSlice(len(values))
	for i := range values {
		if Defined(macd[i]) && Defined(signalLine[i]) {
			hist[i] = macd[i] - signalLine[i]
		}
	}
	return macd, signalLine, hist
}

// Bollinger returns the middle band (SMA), upper, and lower bands at
// mid +/- k standard deviations.
func Bollinger(values []float64, period int, k float64) (mid, upper, lower []float64) {
	mid = SMA(values, period)
	std := RollingStd(values, period)
	upper = nanSlice(len(values))
	lower = nanSlice(len(values))
	for i := range values {
		if Defined(mid[i]) && Defined(std[i]) {
			upper[i] = mid[i] + k*std[i]
			lower[i] = mid[i] - k*std[i]
		}
	}
	return mid, upper, lower
}

// ATR is the average true range: rolling mean of the true range.
func ATR(bars models.Series, period int) []float64 {
	tr := nanSlice(len(bars))
	for i, b := range bars {
		if i == 0 {
			tr[i] = b.High - b.Low
			continue
		}
		prevClose := bars[i-1].Close
		tr[i] = max(b.High-b.Low, max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
	}
	return SMA(tr, period)
}

// ROC is the rate of change in percent over period bars.
func ROC(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	for i := period; i < len(values); i++ {
		if values[i-period] != 0 {
			out[i] = (values[i] - values[i-period]) / values[i-period] * 100
		}
	}
	return out
}

// ZScore is the rolling z-score: (value - rolling mean) / rolling std.
func ZScore(values []float64, period int) []float64 {
	mean := SMA(values, period)
	std := RollingStd(values, period)
	out := nanSlice(len(values))
	for i := range values {
		if Defined(mean[i]) && Defined(std[i]) && std[i] > 0 {
			out[i] = (values[i] - mean[i]) / std[i]
		}
	}
	return out
}
