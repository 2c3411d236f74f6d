// Package options implements the paper options venue: instrument discovery
// and quotes come from the live market-data client, while fills, positions,
// cash, and expiry settlement are simulated in-process.
package options

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/threat_level_midnight/internal/broker"
	"github.com/eddiefleurent/threat_level_midnight/internal/models"
	"github.com/eddiefleurent/threat_level_midnight/internal/pricing"
	"github.com/eddiefleurent/threat_level_midnight/internal/risk"
	"github.com/eddiefleurent/threat_level_midnight/internal/util"
)

const (
	spotCacheTTL   = 30 * time.Second
	ivHistoryDays  = 90
	ivRankLookback = 60 * 24 * time.Hour
	minIVSamples   = 5

	// Taker fee per contract, in underlying terms (3 bps of spot).
	commissionRate = 0.0003

	// Smallest quotable premium increment, in underlying terms.
	optionTick = 0.0001

	defaultRiskFreeRate = 0.05
)

// TradeRecord is one fill or settlement booked by the paper venue.
type TradeRecord struct {
	Time       time.Time         `json:"time"`
	Action     string            `json:"action"`
	Symbol     string            `json:"symbol"`
	Underlying string            `json:"underlying"`
	Side       models.OptionSide `json:"side"`
	Quantity   float64           `json:"quantity"`
	Price      float64           `json:"price"` // underlying terms
	PriceUSD   float64           `json:"price_usd"`
	Commission float64           `json:"commission"` // USD
	PnL        float64           `json:"pnl"`
	LegGroup   string            `json:"leg_group,omitempty"`
	Status     string            `json:"status,omitempty"`
}

type spotEntry struct {
	price float64
	at    time.Time
}

type ivSample struct {
	At time.Time `json:"at"`
	IV float64   `json:"iv"`
}

// Adapter is the paper options venue. One mutex guards all book state;
// market-data calls happen outside the lock.
type Adapter struct {
	market broker.OptionsMarketData
	logger *log.Logger

	riskFreeRate float64

	mu          sync.Mutex
	cash        float64
	positions   map[string]models.OptionPosition
	trades      []TradeRecord
	instruments map[string][]broker.Instrument
	spotCache   map[string]spotEntry
	ivHistory   map[string][]ivSample
	legSeq      int
	now         func() time.Time
}

var _ risk.OptionsBook = (*Adapter)(nil)

// NewAdapter seeds the paper book with initialCash USD.
func NewAdapter(market broker.OptionsMarketData, initialCash float64, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	return &Adapter{
		market:       market,
		logger:       logger,
		riskFreeRate: defaultRiskFreeRate,
		cash:         initialCash,
		positions:    map[string]models.OptionPosition{},
		instruments:  map[string][]broker.Instrument{},
		spotCache:    map[string]spotEntry{},
		ivHistory:    map[string][]ivSample{},
		now:          time.Now,
	}
}

// LoadMarkets fetches and caches the active option instruments for an
// underlying. Safe to call repeatedly; each call refreshes the cache.
func (a *Adapter) LoadMarkets(ctx context.Context, underlying string) error {
	instruments, err := a.market.GetInstruments(ctx, underlying)
	if err != nil {
		return fmt.Errorf("loading %s markets: %w", underlying, err)
	}
	a.mu.Lock()
	a.instruments[underlying] = instruments
	a.mu.Unlock()
	a.logger.Printf("Loaded %d option instruments for %s", len(instruments), underlying)
	return nil
}

// GetSpotPrice returns the index price, served from a 30-second cache.
func (a *Adapter) GetSpotPrice(ctx context.Context, underlying string) (float64, error) {
	a.mu.Lock()
	entry, ok := a.spotCache[underlying]
	now := a.now()
	a.mu.Unlock()
	if ok && now.Sub(entry.at) < spotCacheTTL {
		return entry.price, nil
	}

	price, err := a.market.GetIndexPrice(ctx, underlying)
	if err != nil {
		// Serve stale on fetch failure rather than stalling the loop.
		if ok {
			return entry.price, nil
		}
		return 0, err
	}
	a.mu.Lock()
	a.spotCache[underlying] = spotEntry{price: price, at: now}
	a.mu.Unlock()
	return price, nil
}

// GetCandles fetches perpetual candles for the underlying, used by the
// momentum and volatility strategies.
func (a *Adapter) GetCandles(ctx context.Context, underlying, timeframe string, limit int) (models.Series, error) {
	return a.market.GetOHLCV(ctx, strings.ToUpper(underlying)+"-PERPETUAL", timeframe, 0, limit)
}

// GetOptionChain returns unenriched contracts for an underlying whose DTE
// falls in [minDTE, maxDTE], sorted by expiry then strike.
func (a *Adapter) GetOptionChain(ctx context.Context, underlying string, minDTE, maxDTE float64) ([]models.OptionContract, error) {
	a.mu.Lock()
	instruments, ok := a.instruments[underlying]
	a.mu.Unlock()
	if !ok {
		if err := a.LoadMarkets(ctx, underlying); err != nil {
			return nil, err
		}
		a.mu.Lock()
		instruments = a.instruments[underlying]
		a.mu.Unlock()
	}

	now := a.now().UTC()
	var chain []models.OptionContract
	for _, in := range instruments {
		dte := in.Expiry.Sub(now).Hours() / 24
		if dte < minDTE || dte > maxDTE {
			continue
		}
		chain = append(chain, models.OptionContract{
			Symbol:     in.Name,
			Underlying: underlying,
			Strike:     in.Strike,
			Expiry:     in.Expiry,
			Type:       in.Type,
		})
	}
	sort.Slice(chain, func(i, j int) bool {
		if !chain[i].Expiry.Equal(chain[j].Expiry) {
			return chain[i].Expiry.Before(chain[j].Expiry)
		}
		return chain[i].Strike < chain[j].Strike
	})
	return chain, nil
}

// EnrichContract fills in the quote snapshot: live bid/ask, spot, implied
// vol, and Greeks. The venue's mark IV is preferred; when absent the IV is
// backed out of the mid price. Each enrichment records an IV history sample.
func (a *Adapter) EnrichContract(ctx context.Context, c *models.OptionContract) error {
	quote, err := a.market.GetOptionQuote(ctx, c.Symbol)
	if err != nil {
		return fmt.Errorf("quoting %s: %w", c.Symbol, err)
	}
	spot := quote.UnderlyingPrice
	if spot <= 0 {
		spot, err = a.GetSpotPrice(ctx, c.Underlying)
		if err != nil {
			return err
		}
	}

	c.Bid = quote.Bid
	c.Ask = quote.Ask
	c.Last = quote.Last
	c.OpenInterest = quote.OpenInterest
	c.SpotPrice = spot

	t := c.DTE(a.now().UTC()) / 365
	if quote.MarkIV > 0 {
		// Venue reports mark IV in percent.
		c.IV = quote.MarkIV / 100
	} else if mid := c.Mid(); mid > 0 {
		c.IV = pricing.ImpliedVol(mid*spot, spot, c.Strike, t, a.riskFreeRate, c.Type)
	}
	c.Greeks = pricing.TheGreeks(spot, c.Strike, t, a.riskFreeRate, c.IV, c.Type)

	if c.IV > 0 {
		a.recordIV(c.Underlying, c.Strike, c.Type, c.IV)
	}
	return nil
}

// recordIV appends an IV sample under the contract's history key and trims
// anything older than the 90-day window.
func (a *Adapter) recordIV(underlying string, strike float64, typ models.OptionType, iv float64) {
	key := fmt.Sprintf("%s_%.0f_%s", underlying, strike, typ)
	now := a.now().UTC()
	cutoff := now.Add(-ivHistoryDays * 24 * time.Hour)

	a.mu.Lock()
	defer a.mu.Unlock()
	samples := append(a.ivHistory[key], ivSample{At: now, IV: iv})
	i := 0
	for i < len(samples) && samples[i].At.Before(cutoff) {
		i++
	}
	a.ivHistory[key] = samples[i:]
}

// IVSampleCount returns the number of IV samples recorded for an underlying
// inside the rank lookback window.
func (a *Adapter) IVSampleCount(underlying string) int {
	cutoff := a.now().UTC().Add(-ivRankLookback)
	prefix := underlying + "_"

	a.mu.Lock()
	defer a.mu.Unlock()
	count := 0
	for key, hist := range a.ivHistory {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		for _, s := range hist {
			if s.At.After(cutoff) {
				count++
			}
		}
	}
	return count
}

// FindOption picks the contract of the given type whose expiry is nearest
// targetDTE and whose strike is nearest spot*strikePct, then enriches it.
func (a *Adapter) FindOption(ctx context.Context, underlying string, typ models.OptionType, strikePct, targetDTE float64) (*models.OptionContract, error) {
	spot, err := a.GetSpotPrice(ctx, underlying)
	if err != nil {
		return nil, err
	}
	// Window the chain around the target so one far-off expiry cannot win.
	chain, err := a.GetOptionChain(ctx, underlying, math.Max(targetDTE-21, 1), targetDTE+21)
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	targetStrike := spot * strikePct
	var best *models.OptionContract
	bestScore := math.Inf(1)
	for i := range chain {
		c := &chain[i]
		if c.Type != typ {
			continue
		}
		// Normalize both distances so strike and expiry trade off sanely.
		strikeDist := math.Abs(c.Strike-targetStrike) / spot
		dteDist := math.Abs(c.DTE(now)-targetDTE) / math.Max(targetDTE, 1)
		score := strikeDist + dteDist
		if score < bestScore {
			bestScore = score
			best = c
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no %s %s near strike %.0f / %.0f DTE", underlying, typ, targetStrike, targetDTE)
	}
	if err := a.EnrichContract(ctx, best); err != nil {
		return nil, err
	}
	return best, nil
}

// FindOptions returns up to maxResults contracts of the given type in the
// DTE window, sorted by relevance for the requested moneyness: ATM by
// distance from spot, OTM calls ascending above spot (puts descending
// below), ITM the mirror image.
func (a *Adapter) FindOptions(ctx context.Context, underlying string, typ models.OptionType, minDTE, maxDTE float64, moneyness models.Moneyness, maxResults int) ([]models.OptionContract, error) {
	spot, err := a.GetSpotPrice(ctx, underlying)
	if err != nil {
		return nil, err
	}
	chain, err := a.GetOptionChain(ctx, underlying, minDTE, maxDTE)
	if err != nil {
		return nil, err
	}

	var out []models.OptionContract
	for _, c := range chain {
		if c.Type != typ {
			continue
		}
		switch moneyness {
		case models.OTM:
			if (typ == models.Call && c.Strike <= spot) || (typ == models.Put && c.Strike >= spot) {
				continue
			}
		case models.ITM:
			if (typ == models.Call && c.Strike >= spot) || (typ == models.Put && c.Strike <= spot) {
				continue
			}
		}
		out = append(out, c)
	}

	switch moneyness {
	case models.ATM:
		sort.Slice(out, func(i, j int) bool {
			return math.Abs(out[i].Strike-spot) < math.Abs(out[j].Strike-spot)
		})
	case models.OTM:
		if typ == models.Put {
			sort.Slice(out, func(i, j int) bool { return out[i].Strike > out[j].Strike })
		} else {
			sort.Slice(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
		}
	case models.ITM:
		if typ == models.Put {
			sort.Slice(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
		} else {
			sort.Slice(out, func(i, j int) bool { return out[i].Strike > out[j].Strike })
		}
	}
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

// GetATMIV enriches up to three ATM calls around the target DTE and returns
// the first nonzero implied vol.
func (a *Adapter) GetATMIV(ctx context.Context, underlying string, dteTarget float64) (float64, error) {
	calls, err := a.FindOptions(ctx, underlying, models.Call,
		math.Max(dteTarget-15, 1), dteTarget+15, models.ATM, 3)
	if err != nil {
		return 0, err
	}
	if len(calls) == 0 {
		return 0, fmt.Errorf("no calls listed for %s", underlying)
	}
	for i := range calls {
		if err := a.EnrichContract(ctx, &calls[i]); err != nil {
			continue
		}
		if calls[i].IV > 0 {
			return calls[i].IV, nil
		}
	}
	return 0, fmt.Errorf("no usable IV for %s", underlying)
}

// GetIVRank places the current ATM IV in its 60-day history as a percentile
// (0..100). With fewer than five samples it returns the neutral 50.
func (a *Adapter) GetIVRank(ctx context.Context, underlying string) (float64, error) {
	current, err := a.GetATMIV(ctx, underlying, 30)
	if err != nil {
		return 0, err
	}

	cutoff := a.now().UTC().Add(-ivRankLookback)
	prefix := underlying + "_"

	a.mu.Lock()
	var samples []float64
	for key, hist := range a.ivHistory {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		for _, s := range hist {
			if s.At.After(cutoff) {
				samples = append(samples, s.IV)
			}
		}
	}
	a.mu.Unlock()

	if len(samples) < minIVSamples {
		return 50, nil
	}
	below := 0
	for _, s := range samples {
		if s < current {
			below++
		}
	}
	return float64(below) / float64(len(samples)) * 100, nil
}

// OpenOption is the single-leg entry point behind BuyOption and SellOption.
type openParams struct {
	legGroup   string
	isHedge    bool
	wheelPhase int
}

// OpenOpt customizes a single-leg open.
type OpenOpt func(*openParams)

// WithLegGroup tags the position as part of a multi-leg structure.
func WithLegGroup(group string) OpenOpt { return func(p *openParams) { p.legGroup = group } }

// AsHedge marks the position as protective.
func AsHedge() OpenOpt { return func(p *openParams) { p.isHedge = true } }

// WithWheelPhase records the wheel stage that opened the position.
func WithWheelPhase(phase int) OpenOpt { return func(p *openParams) { p.wheelPhase = phase } }

// BuyOption opens a long position, filling at the ask (mid when the ask is
// missing). Returns an error without touching the book when cash is short
// or no price is available.
func (a *Adapter) BuyOption(ctx context.Context, c *models.OptionContract, qty float64, opts ...OpenOpt) (*models.OptionPosition, error) {
	return a.openPosition(ctx, c, models.Buy, qty, opts...)
}

// SellOption opens a short position, filling at the bid (mid fallback).
func (a *Adapter) SellOption(ctx context.Context, c *models.OptionContract, qty float64, opts ...OpenOpt) (*models.OptionPosition, error) {
	return a.openPosition(ctx, c, models.Sell, qty, opts...)
}

func (a *Adapter) openPosition(ctx context.Context, c *models.OptionContract, side models.OptionSide, qty float64, opts ...OpenOpt) (*models.OptionPosition, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %.8f", qty)
	}
	if c.SpotPrice <= 0 {
		if err := a.EnrichContract(ctx, c); err != nil {
			return nil, err
		}
	}

	var params openParams
	for _, o := range opts {
		o(&params)
	}

	var fill float64
	if side == models.Buy {
		fill = c.Ask
	} else {
		fill = c.Bid
	}
	if fill <= 0 {
		fill = c.Mid()
	}
	if fill <= 0 {
		return nil, fmt.Errorf("no price for %s", c.Symbol)
	}
	fill = util.RoundToTick(fill, optionTick)

	spot := c.SpotPrice
	premiumUSD := fill * spot * qty
	commission := commissionRate * spot * qty
	now := a.now().UTC()

	a.mu.Lock()
	defer a.mu.Unlock()

	if side == models.Buy {
		if a.cash < premiumUSD+commission {
			return nil, fmt.Errorf("insufficient cash: need $%.2f, have $%.2f", premiumUSD+commission, a.cash)
		}
		a.cash -= premiumUSD + commission
	} else {
		a.cash += premiumUSD - commission
	}

	pos := models.OptionPosition{
		ID:            uuid.NewString(),
		Symbol:        c.Symbol,
		Underlying:    c.Underlying,
		Strike:        c.Strike,
		Expiry:        c.Expiry,
		Type:          c.Type,
		Side:          side,
		Quantity:      qty,
		EntryPrice:    fill,
		EntryPriceUSD: fill * spot,
		EntrySpot:     spot,
		EntryTime:     now,
		CurrentPrice:  fill,
		CurrentSpot:   spot,
		IV:            c.IV,
		Greeks:        c.Greeks,
		LegGroup:      params.legGroup,
		IsHedge:       params.isHedge,
		WheelPhase:    params.wheelPhase,
	}
	a.positions[pos.ID] = pos
	a.trades = append(a.trades, TradeRecord{
		Time:       now,
		Action:     "open",
		Symbol:     c.Symbol,
		Underlying: c.Underlying,
		Side:       side,
		Quantity:   qty,
		Price:      fill,
		PriceUSD:   fill * spot,
		Commission: commission,
		LegGroup:   params.legGroup,
	})
	a.logger.Printf("%s %s %.4fx %s @ %.6f ($%.2f)", strings.ToUpper(string(side)), c.Type, qty, c.Symbol, fill, premiumUSD)
	return &pos, nil
}

// OpenStraddle opens the ATM call and put at the target expiry as one leg
// group. A failure on the second leg unwinds the first so the book never
// holds half a straddle.
func (a *Adapter) OpenStraddle(ctx context.Context, underlying string, targetDTE float64, side models.OptionSide, qty float64) ([]models.OptionPosition, error) {
	call, err := a.FindOption(ctx, underlying, models.Call, 1.0, targetDTE)
	if err != nil {
		return nil, err
	}
	put, err := a.FindOption(ctx, underlying, models.Put, 1.0, targetDTE)
	if err != nil {
		return nil, err
	}
	return a.openPair(ctx, call, put, side, qty, a.nextLegGroup("straddle"), "straddle")
}

// OpenStrangle opens an OTM call and put at spot*(1±otmPct) as one leg
// group, unwinding on partial failure.
func (a *Adapter) OpenStrangle(ctx context.Context, underlying string, targetDTE, otmPct float64, side models.OptionSide, qty float64) ([]models.OptionPosition, error) {
	call, err := a.FindOption(ctx, underlying, models.Call, 1+otmPct, targetDTE)
	if err != nil {
		return nil, err
	}
	put, err := a.FindOption(ctx, underlying, models.Put, 1-otmPct, targetDTE)
	if err != nil {
		return nil, err
	}
	return a.openPair(ctx, call, put, side, qty, a.nextLegGroup("strangle"), "strangle")
}

func (a *Adapter) openPair(ctx context.Context, call, put *models.OptionContract, side models.OptionSide, qty float64, group, name string) ([]models.OptionPosition, error) {
	open := a.BuyOption
	if side == models.Sell {
		open = a.SellOption
	}
	callPos, err := open(ctx, call, qty, WithLegGroup(group))
	if err != nil {
		return nil, err
	}
	putPos, err := open(ctx, put, qty, WithLegGroup(group))
	if err != nil {
		a.unwind(callPos.ID)
		return nil, fmt.Errorf("%s put leg failed, call unwound: %w", name, err)
	}
	return []models.OptionPosition{*callPos, *putPos}, nil
}

// SpreadLeg describes one leg of a multi-leg structure for OpenSpread.
type SpreadLeg struct {
	Type      models.OptionType
	Side      models.OptionSide
	StrikePct float64
	Quantity  float64
}

// OpenSpread opens an arbitrary multi-leg structure atomically: every leg
// fills or none do.
func (a *Adapter) OpenSpread(ctx context.Context, underlying, name string, targetDTE float64, legs []SpreadLeg) ([]models.OptionPosition, error) {
	if len(legs) == 0 {
		return nil, fmt.Errorf("spread needs at least one leg")
	}
	group := a.nextLegGroup(name)

	var opened []models.OptionPosition
	for _, leg := range legs {
		contract, err := a.FindOption(ctx, underlying, leg.Type, leg.StrikePct, targetDTE)
		if err == nil {
			var pos *models.OptionPosition
			if leg.Side == models.Buy {
				pos, err = a.BuyOption(ctx, contract, leg.Quantity, WithLegGroup(group))
			} else {
				pos, err = a.SellOption(ctx, contract, leg.Quantity, WithLegGroup(group))
			}
			if err == nil {
				opened = append(opened, *pos)
				continue
			}
		}
		for _, p := range opened {
			a.unwind(p.ID)
		}
		return nil, fmt.Errorf("%s leg %s %s failed, %d legs unwound: %w", name, leg.Side, leg.Type, len(opened), err)
	}
	return opened, nil
}

// unwind reverses a just-opened leg at its entry price, refunding the cash
// flow. Rollback only; regular exits go through ClosePosition.
func (a *Adapter) unwind(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pos, ok := a.positions[id]
	if !ok {
		return
	}
	premiumUSD := pos.EntryPrice * pos.EntrySpot * pos.Quantity
	if pos.Side == models.Buy {
		a.cash += premiumUSD
	} else {
		a.cash -= premiumUSD
	}
	delete(a.positions, id)
}

// ClosePosition exits a position at the opposite side of the book and
// returns the realized USD PnL.
func (a *Adapter) ClosePosition(ctx context.Context, id string) (float64, error) {
	a.mu.Lock()
	pos, ok := a.positions[id]
	a.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("unknown position %s", id)
	}

	contract := models.OptionContract{
		Symbol:     pos.Symbol,
		Underlying: pos.Underlying,
		Strike:     pos.Strike,
		Expiry:     pos.Expiry,
		Type:       pos.Type,
	}
	if err := a.EnrichContract(ctx, &contract); err != nil {
		return 0, err
	}

	// Closing a long sells at the bid; closing a short buys at the ask.
	var fill float64
	if pos.Side == models.Buy {
		fill = contract.Bid
	} else {
		fill = contract.Ask
	}
	if fill <= 0 {
		fill = contract.Mid()
	}
	if fill <= 0 {
		return 0, fmt.Errorf("no closing price for %s", pos.Symbol)
	}

	spot := contract.SpotPrice
	closeUSD := fill * spot * pos.Quantity
	commission := commissionRate * spot * pos.Quantity
	pnl := pos.Side.Sign()*(fill*spot-pos.EntryPrice*pos.EntrySpot)*pos.Quantity - commission
	now := a.now().UTC()

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, still := a.positions[id]; !still {
		return 0, fmt.Errorf("position %s already closed", id)
	}
	if pos.Side == models.Buy {
		a.cash += closeUSD - commission
	} else {
		a.cash -= closeUSD + commission
	}
	delete(a.positions, id)
	a.trades = append(a.trades, TradeRecord{
		Time:       now,
		Action:     "close",
		Symbol:     pos.Symbol,
		Underlying: pos.Underlying,
		Side:       pos.Side,
		Quantity:   pos.Quantity,
		Price:      fill,
		PriceUSD:   fill * spot,
		Commission: commission,
		PnL:        pnl,
		LegGroup:   pos.LegGroup,
	})
	a.logger.Printf("CLOSE %s %s PnL $%+.2f", pos.Symbol, pos.Side, pnl)
	return pnl, nil
}

// CloseLegGroup closes every leg sharing a group tag and returns the summed
// realized PnL. Legs that fail to close are reported but do not stop the
// others.
func (a *Adapter) CloseLegGroup(ctx context.Context, group string) (float64, error) {
	if group == "" {
		return 0, fmt.Errorf("empty leg group")
	}
	a.mu.Lock()
	var ids []string
	for id, pos := range a.positions {
		if pos.LegGroup == group {
			ids = append(ids, id)
		}
	}
	a.mu.Unlock()
	if len(ids) == 0 {
		return 0, fmt.Errorf("no positions in leg group %s", group)
	}

	var total float64
	var firstErr error
	for _, id := range ids {
		pnl, err := a.ClosePosition(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += pnl
	}
	return total, firstErr
}

// RollPosition closes a position and reopens the same side and type at a
// fresh strike percentage and expiry. Returns the realized PnL of the old
// leg and the new position.
func (a *Adapter) RollPosition(ctx context.Context, id string, strikePct, targetDTE float64) (float64, *models.OptionPosition, error) {
	a.mu.Lock()
	pos, ok := a.positions[id]
	a.mu.Unlock()
	if !ok {
		return 0, nil, fmt.Errorf("unknown position %s", id)
	}

	pnl, err := a.ClosePosition(ctx, id)
	if err != nil {
		return 0, nil, err
	}

	contract, err := a.FindOption(ctx, pos.Underlying, pos.Type, strikePct, targetDTE)
	if err != nil {
		return pnl, nil, fmt.Errorf("rolled out of %s but could not reopen: %w", pos.Symbol, err)
	}
	var opts []OpenOpt
	if pos.IsHedge {
		opts = append(opts, AsHedge())
	}
	if pos.WheelPhase > 0 {
		opts = append(opts, WithWheelPhase(pos.WheelPhase))
	}
	var newPos *models.OptionPosition
	if pos.Side == models.Buy {
		newPos, err = a.BuyOption(ctx, contract, pos.Quantity, opts...)
	} else {
		newPos, err = a.SellOption(ctx, contract, pos.Quantity, opts...)
	}
	if err != nil {
		return pnl, nil, fmt.Errorf("rolled out of %s but could not reopen: %w", pos.Symbol, err)
	}
	return pnl, newPos, nil
}

// HandleExpiries cash-settles every position at or past expiry at intrinsic
// value. ITM settlements book as EXERCISED, worthless ones as EXPIRED.
// Returns the settled position IDs and their summed realized PnL.
func (a *Adapter) HandleExpiries(ctx context.Context) ([]string, float64, error) {
	now := a.now().UTC()

	a.mu.Lock()
	var expired []models.OptionPosition
	for _, pos := range a.positions {
		if pos.IsExpired(now) {
			expired = append(expired, pos)
		}
	}
	a.mu.Unlock()
	if len(expired) == 0 {
		return nil, 0, nil
	}

	var settled []string
	var totalPnL float64
	for _, pos := range expired {
		spot, err := a.GetSpotPrice(ctx, pos.Underlying)
		if err != nil {
			// Leave it on the book; the next tick retries.
			a.logger.Printf("cannot settle %s: %v", pos.Symbol, err)
			continue
		}
		intrinsic := pos.Intrinsic(spot)
		settleUSD := intrinsic * pos.Quantity
		pnl := pos.Side.Sign() * (intrinsic - pos.EntryPrice*pos.EntrySpot) * pos.Quantity
		status := "EXPIRED"
		if intrinsic > 0 {
			status = "EXERCISED"
		}

		a.mu.Lock()
		if _, still := a.positions[pos.ID]; !still {
			a.mu.Unlock()
			continue
		}
		if pos.Side == models.Buy {
			a.cash += settleUSD
		} else {
			a.cash -= settleUSD
		}
		delete(a.positions, pos.ID)
		a.trades = append(a.trades, TradeRecord{
			Time:       now,
			Action:     "expiry",
			Symbol:     pos.Symbol,
			Underlying: pos.Underlying,
			Side:       pos.Side,
			Quantity:   pos.Quantity,
			Price:      0,
			PriceUSD:   intrinsic,
			PnL:        pnl,
			LegGroup:   pos.LegGroup,
			Status:     status,
		})
		a.mu.Unlock()

		settled = append(settled, pos.ID)
		totalPnL += pnl
		a.logger.Printf("%s %s settled at $%.2f intrinsic, PnL $%+.2f", status, pos.Symbol, intrinsic, pnl)
	}
	return settled, totalPnL, nil
}

// UpdatePositions refreshes the quote snapshot, spot, IV, and Greeks of
// every open position. Quote failures leave the previous snapshot in place.
func (a *Adapter) UpdatePositions(ctx context.Context) error {
	a.mu.Lock()
	ids := make([]string, 0, len(a.positions))
	for id := range a.positions {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		a.mu.Lock()
		pos, ok := a.positions[id]
		a.mu.Unlock()
		if !ok {
			continue
		}
		contract := models.OptionContract{
			Symbol:     pos.Symbol,
			Underlying: pos.Underlying,
			Strike:     pos.Strike,
			Expiry:     pos.Expiry,
			Type:       pos.Type,
		}
		if err := a.EnrichContract(ctx, &contract); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		a.mu.Lock()
		if cur, still := a.positions[id]; still {
			cur.CurrentPrice = contract.Mid()
			if cur.CurrentPrice <= 0 {
				cur.CurrentPrice = pos.CurrentPrice
			}
			cur.CurrentSpot = contract.SpotPrice
			cur.IV = contract.IV
			cur.Greeks = contract.Greeks
			a.positions[id] = cur
		}
		a.mu.Unlock()
	}
	return firstErr
}

// GetCash returns the free USD balance.
func (a *Adapter) GetCash() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

// GetPortfolioValue is cash plus long marks minus short marks, in USD.
func (a *Adapter) GetPortfolioValue() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := a.cash
	for _, pos := range a.positions {
		mark := pos.CurrentPrice * pos.Spot() * pos.Quantity
		if pos.Side == models.Buy {
			total += mark
		} else {
			total -= mark
		}
	}
	return total
}

// GetPortfolioGreeks sums each position's Greeks weighted by signed
// quantity.
func (a *Adapter) GetPortfolioGreeks() models.Greeks {
	a.mu.Lock()
	defer a.mu.Unlock()
	var g models.Greeks
	for _, pos := range a.positions {
		g = g.Add(pos.Greeks, pos.Side.Sign()*pos.Quantity)
	}
	return g
}

// GetPremiumAtRisk sums the entry premium of long positions only; short
// premium is already collected.
func (a *Adapter) GetPremiumAtRisk() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total float64
	for _, pos := range a.positions {
		if pos.Side == models.Buy {
			total += pos.EntryPriceUSD * pos.Quantity
		}
	}
	return total
}

// GetPositions returns a copy of the open positions keyed by ID.
func (a *Adapter) GetPositions() map[string]models.OptionPosition {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]models.OptionPosition, len(a.positions))
	for id, pos := range a.positions {
		out[id] = pos
	}
	return out
}

// GetOpenPositionCount returns the number of open legs.
func (a *Adapter) GetOpenPositionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.positions)
}

// GetPositionsForUnderlying returns the open legs on one underlying.
func (a *Adapter) GetPositionsForUnderlying(underlying string) []models.OptionPosition {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.OptionPosition
	for _, pos := range a.positions {
		if pos.Underlying == underlying {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// GetTradeHistory returns a copy of every booked fill and settlement.
func (a *Adapter) GetTradeHistory() []TradeRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]TradeRecord(nil), a.trades...)
}

// nextLegGroup mints a group tag like "straddle_3".
func (a *Adapter) nextLegGroup(prefix string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.legSeq++
	return fmt.Sprintf("%s_%d", prefix, a.legSeq)
}

// Snapshot is the serializable paper-book state.
type Snapshot struct {
	Cash      float64                          `json:"cash"`
	Positions map[string]models.OptionPosition `json:"positions"`
	Trades    []TradeRecord                    `json:"trades"`
	IVHistory map[string][]ivSample            `json:"iv_history"`
	LegSeq    int                              `json:"leg_seq"`
}

// Snapshot copies the book state for persistence.
func (a *Adapter) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Snapshot{
		Cash:      a.cash,
		Positions: make(map[string]models.OptionPosition, len(a.positions)),
		Trades:    append([]TradeRecord(nil), a.trades...),
		IVHistory: make(map[string][]ivSample, len(a.ivHistory)),
		LegSeq:    a.legSeq,
	}
	for id, pos := range a.positions {
		s.Positions[id] = pos
	}
	for k, v := range a.ivHistory {
		s.IVHistory[k] = append([]ivSample(nil), v...)
	}
	return s
}

// Restore replaces the book state from a persisted snapshot.
func (a *Adapter) Restore(s Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cash = s.Cash
	a.legSeq = s.LegSeq
	a.positions = make(map[string]models.OptionPosition, len(s.Positions))
	for id, pos := range s.Positions {
		a.positions[id] = pos
	}
	a.trades = append([]TradeRecord(nil), s.Trades...)
	a.ivHistory = make(map[string][]ivSample, len(s.IVHistory))
	for k, v := range s.IVHistory {
		a.ivHistory[k] = append([]ivSample(nil), v...)
	}
}
