// Package mock provides a synthetic market data provider for paper trading
// without network access and for tests. Candles follow a seeded random walk
// and option quotes are priced from a known volatility, so implied vol
// round-trips through the pricing kernel.
package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/threat_level_midnight/internal/broker"
	"github.com/eddiefleurent/threat_level_midnight/internal/models"
	"github.com/eddiefleurent/threat_level_midnight/internal/pricing"
)

// MockDataProvider serves spot and options market data from a simulated
// market. It implements broker.SpotMarketData and broker.OptionsMarketData.
type MockDataProvider struct {
	mu        sync.Mutex
	rng       *rand.Rand
	basePrice float64
	price     float64
	vol       float64 // annualized, e.g. 0.65
	drift     float64
	riskFree  float64
	now       func() time.Time
}

var (
	_ broker.SpotMarketData    = (*MockDataProvider)(nil)
	_ broker.OptionsMarketData = (*MockDataProvider)(nil)
)

// NewMockDataProvider builds a provider around basePrice with annualized
// volatility vol. The same seed reproduces the same market.
func NewMockDataProvider(basePrice, vol float64, seed int64) *MockDataProvider {
	if basePrice <= 0 {
		basePrice = 50_000
	}
	if vol <= 0 {
		vol = 0.65
	}
	return &MockDataProvider{
		rng:       rand.New(rand.NewSource(seed)),
		basePrice: basePrice,
		price:     basePrice,
		vol:       vol,
		riskFree:  0.05,
		now:       time.Now,
	}
}

// SetVol changes the simulated volatility level, shifting every quote's IV.
func (m *MockDataProvider) SetVol(vol float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vol = vol
}

// SetPrice pins the spot price, useful for scripted test scenarios.
func (m *MockDataProvider) SetPrice(price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = price
}

func (m *MockDataProvider) step() float64 {
	// One tick of a small random walk, bounded away from zero.
	m.price *= 1 + (m.rng.Float64()-0.5)*0.002
	if m.price < m.basePrice*0.1 {
		m.price = m.basePrice * 0.1
	}
	return m.price
}

// GetTicker returns a spot quote with a 2 bps spread.
func (m *MockDataProvider) GetTicker(_ context.Context, _ string) (*broker.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	px := m.step()
	spread := px * 0.0002
	return &broker.Ticker{Bid: px - spread/2, Ask: px + spread/2, Last: px}, nil
}

// GetOHLCV generates limit candles ending now, walked backwards from the
// current price so the last close matches the live ticker.
func (m *MockDataProvider) GetOHLCV(_ context.Context, _ string, timeframe string, since int64, limit int) (models.Series, error) {
	step, ok := timeframeDuration(timeframe)
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	if limit <= 0 {
		limit = 100
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	end := m.now().Truncate(step)
	barVol := m.vol * math.Sqrt(step.Hours()/(24*365))

	// Walk backwards so bars[limit-1].Close == current price.
	closes := make([]float64, limit)
	closes[limit-1] = m.price
	for i := limit - 2; i >= 0; i-- {
		closes[i] = closes[i+1] / (1 + m.rng.NormFloat64()*barVol)
	}

	bars := make(models.Series, 0, limit)
	for i := 0; i < limit; i++ {
		ts := end.Add(-time.Duration(limit-1-i) * step).UnixMilli()
		if since > 0 && ts < since {
			continue
		}
		c := closes[i]
		o := c * (1 + (m.rng.Float64()-0.5)*barVol)
		h := math.Max(o, c) * (1 + m.rng.Float64()*barVol/2)
		l := math.Min(o, c) * (1 - m.rng.Float64()*barVol/2)
		bars = append(bars, models.Bar{
			Timestamp: ts,
			Open:      o,
			High:      h,
			Low:       l,
			Close:     c,
			Volume:    100 + m.rng.Float64()*900,
		})
	}
	return bars, nil
}

// GetIndexPrice returns the simulated spot price for the currency.
func (m *MockDataProvider) GetIndexPrice(_ context.Context, _ string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step(), nil
}

// GetInstruments lists weekly expiries out to ninety days with strikes in a
// band around spot.
func (m *MockDataProvider) GetInstruments(_ context.Context, currency string) ([]broker.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	underlying := strings.ToUpper(currency)
	strikeStep := strikeInterval(m.price)
	low := math.Floor(m.price*0.7/strikeStep) * strikeStep
	high := math.Ceil(m.price*1.3/strikeStep) * strikeStep

	var out []broker.Instrument
	expiry := nextFriday(m.now())
	for week := 0; week < 13; week++ {
		exp := expiry.AddDate(0, 0, 7*week)
		for strike := low; strike <= high; strike += strikeStep {
			for _, typ := range []models.OptionType{models.Call, models.Put} {
				out = append(out, broker.Instrument{
					Name:       instrumentName(underlying, exp, strike, typ),
					Underlying: underlying,
					Strike:     strike,
					Expiry:     exp,
					Type:       typ,
				})
			}
		}
	}
	return out, nil
}

// GetOptionQuote prices the instrument with Black-Scholes at the simulated
// volatility plus a smile, quoted in underlying terms like Deribit.
func (m *MockDataProvider) GetOptionQuote(_ context.Context, instrument string) (*broker.OptionQuote, error) {
	strike, expiry, typ, err := parseInstrument(instrument)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	spot := m.price
	t := expiry.Sub(m.now()).Hours() / 24 / 365
	if t < 1e-6 {
		t = 1e-6
	}

	iv := m.smileIV(strike, spot)
	pxUSD := pricing.Price(spot, strike, t, m.riskFree, iv, typ)
	px := pxUSD / spot
	spread := math.Max(px*0.04, 0.0001)

	return &broker.OptionQuote{
		Bid:             math.Max(px-spread/2, 0),
		Ask:             px + spread/2,
		Last:            px,
		OpenInterest:    float64(100 + m.rng.Intn(5000)),
		UnderlyingPrice: spot,
		MarkIV:          iv * 100,
	}, nil
}

// smileIV bends the base vol upward away from the money.
func (m *MockDataProvider) smileIV(strike, spot float64) float64 {
	moneyness := math.Log(strike / spot)
	return m.vol * (1 + 0.3*moneyness*moneyness)
}

func strikeInterval(price float64) float64 {
	switch {
	case price >= 20_000:
		return 1000
	case price >= 2000:
		return 100
	case price >= 200:
		return 10
	default:
		return 1
	}
}

func nextFriday(now time.Time) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), 8, 0, 0, 0, time.UTC)
	for t.Weekday() != time.Friday || !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// instrumentName follows the Deribit convention, e.g. BTC-26SEP25-60000-C.
func instrumentName(underlying string, expiry time.Time, strike float64, typ models.OptionType) string {
	suffix := "C"
	if typ == models.Put {
		suffix = "P"
	}
	return fmt.Sprintf("%s-%s-%.0f-%s",
		underlying, strings.ToUpper(expiry.Format("2Jan06")), strike, suffix)
}

func parseInstrument(name string) (strike float64, expiry time.Time, typ models.OptionType, err error) {
	parts := strings.Split(name, "-")
	if len(parts) != 4 {
		return 0, time.Time{}, "", fmt.Errorf("malformed instrument %q", name)
	}
	expiry, err = time.Parse("2Jan06", titleMonth(parts[1]))
	if err != nil {
		return 0, time.Time{}, "", fmt.Errorf("parsing expiry in %q: %w", name, err)
	}
	expiry = expiry.Add(8 * time.Hour)
	if _, err = fmt.Sscanf(parts[2], "%f", &strike); err != nil {
		return 0, time.Time{}, "", fmt.Errorf("parsing strike in %q: %w", name, err)
	}
	typ = models.Call
	if parts[3] == "P" {
		typ = models.Put
	}
	return strike, expiry, typ, nil
}

// titleMonth turns 26SEP25 into 26Sep25 so time.Parse accepts it.
func titleMonth(token string) string {
	out := []byte(strings.ToLower(token))
	for i, c := range out {
		if c >= 'a' && c <= 'z' {
			out[i] = c - 'a' + 'A'
			break
		}
	}
	return string(out)
}

func timeframeDuration(timeframe string) (time.Duration, bool) {
	switch timeframe {
	case "1m":
		return time.Minute, true
	case "5m":
		return 5 * time.Minute, true
	case "15m":
		return 15 * time.Minute, true
	case "30m":
		return 30 * time.Minute, true
	case "1h":
		return time.Hour, true
	case "4h":
		return 4 * time.Hour, true
	case "1d":
		return 24 * time.Hour, true
	case "1w":
		return 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
