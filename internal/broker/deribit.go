package broker

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

const (
	deribitProdURL = "https://www.deribit.com/api/v2"
	deribitTestURL = "https://test.deribit.com/api/v2"
)

// DeribitClient talks to the Deribit public API. Market data needs no
// authentication; paper trading happens entirely client-side.
type DeribitClient struct {
	core *httpCore
}

var _ OptionsMarketData = (*DeribitClient)(nil)

// NewDeribitClient returns a client against production or the test
// environment.
func NewDeribitClient(sandbox bool) *DeribitClient {
	base := deribitProdURL
	if sandbox {
		base = deribitTestURL
	}
	return &DeribitClient{core: newHTTPCore(base)}
}

type deribitEnvelope[T any] struct {
	Result T `json:"result"`
}

type deribitInstrument struct {
	InstrumentName      string  `json:"instrument_name"`
	BaseCurrency        string  `json:"base_currency"`
	Strike              float64 `json:"strike"`
	ExpirationTimestamp int64   `json:"expiration_timestamp"`
	OptionType          string  `json:"option_type"`
	IsActive            bool    `json:"is_active"`
}

// GetInstruments lists the active option instruments for a currency.
func (c *DeribitClient) GetInstruments(ctx context.Context, currency string) ([]Instrument, error) {
	params := url.Values{}
	params.Set("currency", strings.ToUpper(currency))
	params.Set("kind", "option")
	params.Set("expired", "false")

	var env deribitEnvelope[[]deribitInstrument]
	if err := c.core.getJSON(ctx, "/public/get_instruments", params, &env); err != nil {
		return nil, fmt.Errorf("fetching %s instruments: %w", currency, err)
	}

	out := make([]Instrument, 0, len(env.Result))
	for _, in := range env.Result {
		typ := models.Call
		if in.OptionType == "put" {
			typ = models.Put
		}
		out = append(out, Instrument{
			Name:       in.InstrumentName,
			Underlying: in.BaseCurrency,
			Strike:     in.Strike,
			Expiry:     time.UnixMilli(in.ExpirationTimestamp).UTC(),
			Type:       typ,
		})
	}
	return out, nil
}

type deribitTicker struct {
	BestBidPrice    float64 `json:"best_bid_price"`
	BestAskPrice    float64 `json:"best_ask_price"`
	LastPrice       float64 `json:"last_price"`
	OpenInterest    float64 `json:"open_interest"`
	UnderlyingPrice float64 `json:"underlying_price"`
	MarkIV          float64 `json:"mark_iv"`
}

// GetOptionQuote fetches the live ticker for one instrument.
func (c *DeribitClient) GetOptionQuote(ctx context.Context, instrument string) (*OptionQuote, error) {
	params := url.Values{}
	params.Set("instrument_name", instrument)

	var env deribitEnvelope[deribitTicker]
	if err := c.core.getJSON(ctx, "/public/ticker", params, &env); err != nil {
		return nil, fmt.Errorf("fetching ticker for %s: %w", instrument, err)
	}
	r := env.Result
	return &OptionQuote{
		Bid:             r.BestBidPrice,
		Ask:             r.BestAskPrice,
		Last:            r.LastPrice,
		OpenInterest:    r.OpenInterest,
		UnderlyingPrice: r.UnderlyingPrice,
		MarkIV:          r.MarkIV,
	}, nil
}

type deribitIndex struct {
	IndexPrice float64 `json:"index_price"`
}

// GetIndexPrice returns the USD index price for a currency (e.g. "BTC").
func (c *DeribitClient) GetIndexPrice(ctx context.Context, currency string) (float64, error) {
	params := url.Values{}
	params.Set("index_name", strings.ToLower(currency)+"_usd")

	var env deribitEnvelope[deribitIndex]
	if err := c.core.getJSON(ctx, "/public/get_index_price", params, &env); err != nil {
		return 0, fmt.Errorf("fetching %s index price: %w", currency, err)
	}
	if env.Result.IndexPrice <= 0 {
		return 0, fmt.Errorf("no index price for %s", currency)
	}
	return env.Result.IndexPrice, nil
}

type deribitChart struct {
	Status string    `json:"status"`
	Ticks  []int64   `json:"ticks"`
	Open   []float64 `json:"open"`
	High   []float64 `json:"high"`
	Low    []float64 `json:"low"`
	Close  []float64 `json:"close"`
	Volume []float64 `json:"volume"`
}

// deribitResolutions maps the common timeframe names onto the chart API's
// resolution strings (minutes, or 1D).
var deribitResolutions = map[string]string{
	"1m": "1", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "4h": "240", "1d": "1D",
}

// GetOHLCV fetches candles for an instrument (e.g. BTC-PERPETUAL) between
// since and now, capped at limit bars.
func (c *DeribitClient) GetOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) (models.Series, error) {
	res, ok := deribitResolutions[timeframe]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	end := time.Now().UnixMilli()
	if since <= 0 {
		since = end - int64(limit)*timeframeMillis(timeframe)
	}

	params := url.Values{}
	params.Set("instrument_name", symbol)
	params.Set("resolution", res)
	params.Set("start_timestamp", strconv.FormatInt(since, 10))
	params.Set("end_timestamp", strconv.FormatInt(end, 10))

	var env deribitEnvelope[deribitChart]
	if err := c.core.getJSON(ctx, "/public/get_tradingview_chart_data", params, &env); err != nil {
		return nil, fmt.Errorf("fetching %s %s candles: %w", symbol, timeframe, err)
	}
	chart := env.Result
	if chart.Status == "no_data" || len(chart.Ticks) == 0 {
		return nil, nil
	}

	n := len(chart.Ticks)
	if limit > 0 && n > limit {
		// Keep the most recent bars.
		chart.Ticks = chart.Ticks[n-limit:]
		chart.Open = chart.Open[n-limit:]
		chart.High = chart.High[n-limit:]
		chart.Low = chart.Low[n-limit:]
		chart.Close = chart.Close[n-limit:]
		chart.Volume = chart.Volume[n-limit:]
		n = limit
	}

	bars := make(models.Series, n)
	for i := 0; i < n; i++ {
		bars[i] = models.Bar{
			Timestamp: chart.Ticks[i],
			Open:      chart.Open[i],
			High:      chart.High[i],
			Low:       chart.Low[i],
			Close:     chart.Close[i],
			Volume:    chart.Volume[i],
		}
	}
	return bars, nil
}

// timeframeMillis returns the bar duration in milliseconds, defaulting to
// one day for unknown names.
func timeframeMillis(timeframe string) int64 {
	switch timeframe {
	case "1m":
		return 60_000
	case "5m":
		return 300_000
	case "15m":
		return 900_000
	case "30m":
		return 1_800_000
	case "1h":
		return 3_600_000
	case "4h":
		return 14_400_000
	case "1w":
		return 604_800_000
	default:
		return 86_400_000
	}
}
