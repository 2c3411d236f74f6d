// Package broker contains the venue HTTP clients: Deribit for options
// market data and Kraken for spot. Both sit behind small interfaces so the
// adapters and tests can swap in fakes, and both can be wrapped with a
// circuit breaker.
package broker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

// Ticker is a spot quote snapshot.
type Ticker struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Last float64 `json:"last"`
}

// Instrument is one listed option instrument as reported by the venue.
type Instrument struct {
	Name       string
	Underlying string
	Strike     float64
	Expiry     time.Time
	Type       models.OptionType
}

// OptionQuote is a live option ticker. Prices are in underlying terms.
type OptionQuote struct {
	Bid             float64
	Ask             float64
	Last            float64
	OpenInterest    float64
	UnderlyingPrice float64
	MarkIV          float64 // percent, e.g. 65.3
}

// SpotMarketData serves spot tickers and OHLCV candles.
type SpotMarketData interface {
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) (models.Series, error)
}

// OptionsMarketData serves the option universe, quotes, and the underlying
// index price.
type OptionsMarketData interface {
	GetInstruments(ctx context.Context, currency string) ([]Instrument, error)
	GetOptionQuote(ctx context.Context, instrument string) (*OptionQuote, error)
	GetIndexPrice(ctx context.Context, currency string) (float64, error)
	GetOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) (models.Series, error)
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	})
}

// execBreaker funnels a typed call through a gobreaker instance.
func execBreaker[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	result, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// SpotBreaker wraps a SpotMarketData client with a circuit breaker so a
// misbehaving venue fails fast instead of stalling the tick loop.
type SpotBreaker struct {
	client SpotMarketData
	cb     *gobreaker.CircuitBreaker
}

// NewSpotBreaker wraps client.
func NewSpotBreaker(client SpotMarketData) *SpotBreaker {
	return &SpotBreaker{client: client, cb: newBreaker("spot-market-data")}
}

var _ SpotMarketData = (*SpotBreaker)(nil)

func (b *SpotBreaker) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	return execBreaker(b.cb, func() (*Ticker, error) {
		return b.client.GetTicker(ctx, symbol)
	})
}

func (b *SpotBreaker) GetOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) (models.Series, error) {
	return execBreaker(b.cb, func() (models.Series, error) {
		return b.client.GetOHLCV(ctx, symbol, timeframe, since, limit)
	})
}

// OptionsBreaker wraps an OptionsMarketData client with a circuit breaker.
type OptionsBreaker struct {
	client OptionsMarketData
	cb     *gobreaker.CircuitBreaker
}

// NewOptionsBreaker wraps client.
func NewOptionsBreaker(client OptionsMarketData) *OptionsBreaker {
	return &OptionsBreaker{client: client, cb: newBreaker("options-market-data")}
}

var _ OptionsMarketData = (*OptionsBreaker)(nil)

func (b *OptionsBreaker) GetInstruments(ctx context.Context, currency string) ([]Instrument, error) {
	return execBreaker(b.cb, func() ([]Instrument, error) {
		return b.client.GetInstruments(ctx, currency)
	})
}

func (b *OptionsBreaker) GetOptionQuote(ctx context.Context, instrument string) (*OptionQuote, error) {
	return execBreaker(b.cb, func() (*OptionQuote, error) {
		return b.client.GetOptionQuote(ctx, instrument)
	})
}

func (b *OptionsBreaker) GetIndexPrice(ctx context.Context, currency string) (float64, error) {
	return execBreaker(b.cb, func() (float64, error) {
		return b.client.GetIndexPrice(ctx, currency)
	})
}

func (b *OptionsBreaker) GetOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) (models.Series, error) {
	return execBreaker(b.cb, func() (models.Series, error) {
		return b.client.GetOHLCV(ctx, symbol, timeframe, since, limit)
	})
}
