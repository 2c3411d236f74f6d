package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

const krakenBaseURL = "https://api.kraken.com/0"

// KrakenClient talks to the Kraken public API for spot tickers and candles.
type KrakenClient struct {
	core *httpCore
}

var _ SpotMarketData = (*KrakenClient)(nil)

// NewKrakenClient returns a public (unauthenticated) client.
func NewKrakenClient() *KrakenClient {
	return &KrakenClient{core: newHTTPCore(krakenBaseURL)}
}

type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

type krakenTicker struct {
	A []string `json:"a"` // ask [price, whole lot volume, lot volume]
	B []string `json:"b"` // bid
	C []string `json:"c"` // last trade closed [price, lot volume]
}

// krakenPair maps a BASE/QUOTE symbol to Kraken's pair naming (BTC -> XBT).
func krakenPair(symbol string) string {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok {
		return symbol
	}
	if base == "BTC" {
		base = "XBT"
	}
	if quote == "USDT" || quote == "USDC" {
		return base + quote
	}
	return base + quote
}

// GetTicker fetches bid/ask/last for a symbol like "BTC/USD".
func (c *KrakenClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("pair", krakenPair(symbol))

	var env krakenEnvelope
	if err := c.core.getJSON(ctx, "/public/Ticker", params, &env); err != nil {
		return nil, fmt.Errorf("fetching ticker for %s: %w", symbol, err)
	}
	if len(env.Error) > 0 {
		return nil, fmt.Errorf("kraken error for %s: %s", symbol, strings.Join(env.Error, "; "))
	}

	// The result is keyed by Kraken's canonical pair name, which does not
	// always match the requested one. Take the first entry.
	var pairs map[string]krakenTicker
	if err := json.Unmarshal(env.Result, &pairs); err != nil {
		return nil, fmt.Errorf("decoding ticker for %s: %w", symbol, err)
	}
	for _, t := range pairs {
		return &Ticker{
			Bid:  firstFloat(t.B),
			Ask:  firstFloat(t.A),
			Last: firstFloat(t.C),
		}, nil
	}
	return nil, fmt.Errorf("no ticker data for %s", symbol)
}

// krakenIntervals maps timeframe names onto Kraken's interval minutes.
var krakenIntervals = map[string]int{
	"1m": 1, "5m": 5, "15m": 15, "30m": 30,
	"1h": 60, "4h": 240, "1d": 1440, "1w": 10080,
}

// GetOHLCV fetches candles. Kraken returns at most 720 bars per call; the
// marketdata fetcher paginates above that.
func (c *KrakenClient) GetOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) (models.Series, error) {
	interval, ok := krakenIntervals[timeframe]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", timeframe)
	}

	params := url.Values{}
	params.Set("pair", krakenPair(symbol))
	params.Set("interval", strconv.Itoa(interval))
	if since > 0 {
		params.Set("since", strconv.FormatInt(since/1000, 10))
	}

	var env krakenEnvelope
	if err := c.core.getJSON(ctx, "/public/OHLC", params, &env); err != nil {
		return nil, fmt.Errorf("fetching %s %s candles: %w", symbol, timeframe, err)
	}
	if len(env.Error) > 0 {
		return nil, fmt.Errorf("kraken error for %s: %s", symbol, strings.Join(env.Error, "; "))
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(env.Result, &raw); err != nil {
		return nil, fmt.Errorf("decoding candles for %s: %w", symbol, err)
	}

	var bars models.Series
	for key, val := range raw {
		if key == "last" {
			continue
		}
		// Rows are [time, open, high, low, close, vwap, volume, count];
		// time and count are numbers, the prices are strings.
		var rows [][]any
		if err := json.Unmarshal(val, &rows); err != nil {
			return nil, fmt.Errorf("decoding candle rows for %s: %w", symbol, err)
		}
		for _, row := range rows {
			if len(row) < 7 {
				continue
			}
			bars = append(bars, models.Bar{
				Timestamp: int64(coerceFloat(row[0])) * 1000,
				Open:      coerceFloat(row[1]),
				High:      coerceFloat(row[2]),
				Low:       coerceFloat(row[3]),
				Close:     coerceFloat(row[4]),
				Volume:    coerceFloat(row[6]),
			})
		}
		break
	}

	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func firstFloat(vals []string) float64 {
	if len(vals) == 0 {
		return 0
	}
	f, _ := strconv.ParseFloat(vals[0], 64)
	return f
}

func coerceFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}
