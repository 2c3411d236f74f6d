package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

func TestPutCallParity(t *testing.T) {
	cases := []struct {
		name             string
		s, k, tt, r, sig float64
	}{
		{"atm", 100, 100, 0.5, 0.05, 0.2},
		{"itm_call", 120, 100, 0.25, 0.05, 0.4},
		{"otm_call", 80, 100, 1.0, 0.02, 0.6},
		{"high_vol", 50000, 55000, 0.1, 0.05, 1.2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			call := Price(tc.s, tc.k, tc.tt, tc.r, tc.sig, models.Call)
			put := Price(tc.s, tc.k, tc.tt, tc.r, tc.sig, models.Put)
			parity := tc.s - tc.k*math.Exp(-tc.r*tc.tt)
			assert.InDelta(t, parity, call-put, 1e-6)
		})
	}
}

func TestPriceAtExpiry(t *testing.T) {
	assert.InDelta(t, 20, Price(120, 100, 0, 0.05, 0.3, models.Call), 1e-9)
	assert.InDelta(t, 0, Price(80, 100, 0, 0.05, 0.3, models.Call), 1e-9)
	assert.InDelta(t, 20, Price(80, 100, 0, 0.05, 0.3, models.Put), 1e-9)
	assert.InDelta(t, 0, Price(120, 100, 0, 0.05, 0.3, models.Put), 1e-9)
}

func TestGreeksSigns(t *testing.T) {
	for _, strike := range []float64{80, 100, 120} {
		call := TheGreeks(100, strike, 0.5, 0.05, 0.3, models.Call)
		put := TheGreeks(100, strike, 0.5, 0.05, 0.3, models.Put)

		assert.GreaterOrEqual(t, call.Delta, 0.0, "call delta at K=%v", strike)
		assert.LessOrEqual(t, call.Delta, 1.0, "call delta at K=%v", strike)
		assert.GreaterOrEqual(t, put.Delta, -1.0, "put delta at K=%v", strike)
		assert.LessOrEqual(t, put.Delta, 0.0, "put delta at K=%v", strike)

		assert.GreaterOrEqual(t, call.Gamma, 0.0)
		assert.GreaterOrEqual(t, put.Gamma, 0.0)
		assert.GreaterOrEqual(t, call.Vega, 0.0)
		assert.GreaterOrEqual(t, put.Vega, 0.0)
		assert.LessOrEqual(t, call.Theta, 0.0, "long call theta at K=%v", strike)
	}
}

func TestGreeksParityDelta(t *testing.T) {
	call := TheGreeks(100, 100, 0.5, 0.05, 0.3, models.Call)
	put := TheGreeks(100, 100, 0.5, 0.05, 0.3, models.Put)
	// Same-strike call and put share gamma and vega; deltas differ by 1.
	assert.InDelta(t, 1.0, call.Delta-put.Delta, 1e-9)
	assert.InDelta(t, call.Gamma, put.Gamma, 1e-9)
	assert.InDelta(t, call.Vega, put.Vega, 1e-9)
}

func TestImpliedVolRoundTrip(t *testing.T) {
	sigmas := []float64{0.05, 0.1, 0.3, 0.65, 1.0, 2.0, 3.0}
	for _, sigma := range sigmas {
		for _, typ := range []models.OptionType{models.Call, models.Put} {
			px := Price(50000, 52000, 0.1, 0.05, sigma, typ)
			iv := ImpliedVol(px, 50000, 52000, 0.1, 0.05, typ)
			require.InDelta(t, sigma, iv, 1e-4, "sigma=%v type=%v", sigma, typ)
		}
	}
}

func TestImpliedVolBelowIntrinsic(t *testing.T) {
	// A price below the discounted intrinsic floor has no solution.
	intrinsicFloor := 120 - 100*math.Exp(-0.05*0.5)
	iv := ImpliedVol(intrinsicFloor*0.5, 120, 100, 0.5, 0.05, models.Call)
	assert.Zero(t, iv)
}

func TestNormCDF(t *testing.T) {
	assert.InDelta(t, 0.5, NormCDF(0), 1e-12)
	assert.InDelta(t, 0.8413447, NormCDF(1), 1e-6)
	assert.InDelta(t, 1.0, NormCDF(0)+NormCDF(0), 1e-12)
	assert.InDelta(t, NormCDF(-2), 1-NormCDF(2), 1e-12)
}
