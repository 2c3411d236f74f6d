// Package pricing implements the Black-Scholes option pricing kernel:
// theoretical price, Greeks, and an implied-volatility solver. All
// functions are pure and stateless.
package pricing

import (
	"math"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

// NormCDF is the standard normal cumulative distribution function.
func NormCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// NormPDF is the standard normal probability density function.
func NormPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}

func d1d2(s, k, t, r, sigma float64) (float64, float64) {
	d1 := (math.Log(s/k) + (r+sigma*sigma/2)*t) / (sigma * math.Sqrt(t))
	return d1, d1 - sigma*math.Sqrt(t)
}

// Price returns the Black-Scholes value of a European option. At expiry
// (t <= 0) or with nonpositive vol it returns intrinsic value.
func Price(s, k, t, r, sigma float64, typ models.OptionType) float64 {
	if t <= 0 || sigma <= 0 {
		return intrinsic(s, k, typ)
	}
	d1, d2 := d1d2(s, k, t, r, sigma)
	if typ == models.Call {
		return s*NormCDF(d1) - k*math.Exp(-r*t)*NormCDF(d2)
	}
	return k*math.Exp(-r*t)*NormCDF(-d2) - s*NormCDF(-d1)
}

// TheGreeks returns delta, gamma, theta per calendar day, and vega per 1%
// vol move. At expiry or with nonpositive vol everything is zero.
func TheGreeks(s, k, t, r, sigma float64, typ models.OptionType) models.Greeks {
	if t <= 0 || sigma <= 0 {
		return models.Greeks{}
	}
	d1, d2 := d1d2(s, k, t, r, sigma)
	sqt := math.Sqrt(t)

	var delta float64
	if typ == models.Call {
		delta = NormCDF(d1)
	} else {
		delta = NormCDF(d1) - 1
	}

	gamma := NormPDF(d1) / (s * sigma * sqt)

	thetaAnnual := -(s * NormPDF(d1) * sigma) / (2 * sqt)
	if typ == models.Call {
		thetaAnnual -= r * k * math.Exp(-r*t) * NormCDF(d2)
	} else {
		thetaAnnual += r * k * math.Exp(-r*t) * NormCDF(-d2)
	}

	return models.Greeks{
		Delta: delta,
		Gamma: gamma,
		Theta: thetaAnnual / 365,
		Vega:  s * NormPDF(d1) * sqt / 100,
	}
}

const (
	ivLow     = 0.01
	ivHigh    = 10.0
	ivTol     = 1e-6
	ivMaxIter = 100
)

// ImpliedVol solves for the volatility that reproduces marketPx. It brackets
// on [0.01, 10] with Brent's method, falling back to plain bisection when
// the Brent iteration degenerates. Prices below discounted intrinsic return
// zero (no vol can reach them).
func ImpliedVol(marketPx, s, k, t, r float64, typ models.OptionType) float64 {
	if t <= 0 || marketPx <= 0 {
		return 0
	}
	var floor float64
	if typ == models.Call {
		floor = max(s-k*math.Exp(-r*t), 0)
	} else {
		floor = max(k*math.Exp(-r*t)-s, 0)
	}
	if marketPx <= floor {
		return 0
	}

	f := func(sigma float64) float64 {
		return Price(s, k, t, r, sigma, typ) - marketPx
	}
	if iv, ok := brent(f, ivLow, ivHigh); ok {
		return iv
	}
	return bisect(f, ivLow, ivHigh)
}

// brent is Brent's root finder on [a, b]. Returns false when the root is
// not bracketed.
func brent(f func(float64) float64, a, b float64) (float64, bool) {
	fa, fb := f(a), f(b)
	if fa*fb > 0 {
		return 0, false
	}
	if math.Abs(fa) < math.Abs(fb) {
		a, b = b, a
		fa, fb = fb, fa
	}
	c, fc := a, fa
	d := b - a
	mflag := true

	for i := 0; i < ivMaxIter; i++ {
		if fb == 0 || math.Abs(b-a) < ivTol {
			return b, true
		}
		var sNew float64
		if fa != fc && fb != fc {
			// Inverse quadratic interpolation.
			sNew = a*fb*fc/((fa-fb)*(fa-fc)) +
				b*fa*fc/((fb-fa)*(fb-fc)) +
				c*fa*fb/((fc-fa)*(fc-fb))
		} else {
			// Secant step.
			sNew = b - fb*(b-a)/(fb-fa)
		}

		cond := (sNew < (3*a+b)/4 || sNew > b)
		if !cond && mflag && math.Abs(sNew-b) >= math.Abs(b-c)/2 {
			cond = true
		}
		if !cond && !mflag && math.Abs(sNew-b) >= math.Abs(c-d)/2 {
			cond = true
		}
		if cond {
			sNew = (a + b) / 2
			mflag = true
		} else {
			mflag = false
		}

		fs := f(sNew)
		d = c
		c, fc = b, fb
		if fa*fs < 0 {
			b, fb = sNew, fs
		} else {
			a, fa = sNew, fs
		}
		if math.Abs(fa) < math.Abs(fb) {
			a, b = b, a
			fa, fb = fb, fa
		}
	}
	return b, true
}

// bisect is the fallback root finder; it returns the midpoint of the final
// bracket even when convergence is incomplete.
func bisect(f func(float64) float64, lo, hi float64) float64 {
	flo := f(lo)
	if flo*f(hi) > 0 {
		return 0
	}
	for i := 0; i < ivMaxIter; i++ {
		mid := (lo + hi) / 2
		fm := f(mid)
		if math.Abs(fm) < ivTol || (hi-lo)/2 < ivTol {
			return mid
		}
		if flo*fm < 0 {
			hi = mid
		} else {
			lo = mid
			flo = fm
		}
	}
	return (lo + hi) / 2
}

func intrinsic(s, k float64, typ models.OptionType) float64 {
	if typ == models.Call {
		return max(s-k, 0)
	}
	return max(k-s, 0)
}
