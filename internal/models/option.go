package models

import (
	"fmt"
	"time"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// OptionSide is the direction of an option position.
type OptionSide string

const (
	Buy  OptionSide = "buy"
	Sell OptionSide = "sell"
)

// Sign returns +1 for long positions and -1 for short.
func (s OptionSide) Sign() float64 {
	if s == Sell {
		return -1
	}
	return 1
}

// Moneyness classifies a strike relative to spot. The ATM band is +/-2%.
type Moneyness string

const (
	ITM Moneyness = "ITM"
	ATM Moneyness = "ATM"
	OTM Moneyness = "OTM"
)

const atmBandPct = 0.02

// Greeks holds the first-order sensitivities of an option or a portfolio.
// Theta is per calendar day; Vega is per 1% vol move.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// Add accumulates g2 scaled by weight into a copy of g.
func (g Greeks) Add(g2 Greeks, weight float64) Greeks {
	return Greeks{
		Delta: g.Delta + g2.Delta*weight,
		Gamma: g.Gamma + g2.Gamma*weight,
		Theta: g.Theta + g2.Theta*weight,
		Vega:  g.Vega + g2.Vega*weight,
	}
}

// OptionContract is one listed option. Identity fields (Symbol, Underlying,
// Strike, Expiry, Type) never change; the quote fields are a mutable
// snapshot refreshed by the adapter.
type OptionContract struct {
	Symbol     string     `json:"symbol"`
	Underlying string     `json:"underlying"`
	Strike     float64    `json:"strike"`
	Expiry     time.Time  `json:"expiry"`
	Type       OptionType `json:"type"`

	// Quote snapshot, in underlying terms (Deribit convention).
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Last         float64 `json:"last"`
	OpenInterest float64 `json:"open_interest"`
	SpotPrice    float64 `json:"spot_price"`
	IV           float64 `json:"iv"`
	Greeks       Greeks  `json:"greeks"`
}

// Mid returns (bid+ask)/2, falling back to last when either side is missing.
func (c *OptionContract) Mid() float64 {
	if c.Bid > 0 && c.Ask > 0 {
		return (c.Bid + c.Ask) / 2
	}
	return c.Last
}

// DTE is days to expiration, floored at zero.
func (c *OptionContract) DTE(now time.Time) float64 {
	d := c.Expiry.Sub(now).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// Moneyness classifies the contract against its spot snapshot.
func (c *OptionContract) Moneyness() Moneyness {
	if c.SpotPrice <= 0 {
		return OTM
	}
	band := c.SpotPrice * atmBandPct
	diff := c.Strike - c.SpotPrice
	switch {
	case diff > -band && diff < band:
		return ATM
	case (c.Type == Call && c.Strike < c.SpotPrice) || (c.Type == Put && c.Strike > c.SpotPrice):
		return ITM
	default:
		return OTM
	}
}

// Intrinsic returns the exercise value at the given spot.
func (c *OptionContract) Intrinsic(spot float64) float64 {
	if c.Type == Call {
		return max(spot-c.Strike, 0)
	}
	return max(c.Strike-spot, 0)
}

// OptionPosition is one open option leg, identified by ID. LegGroup is a
// weak tag linking the legs of a multi-leg structure; legs never own each
// other.
type OptionPosition struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Underlying string     `json:"underlying"`
	Strike     float64    `json:"strike"`
	Expiry     time.Time  `json:"expiry"`
	Type       OptionType `json:"type"`
	Side       OptionSide `json:"side"`
	Quantity   float64    `json:"quantity"`

	EntryPrice    float64   `json:"entry_price"` // underlying terms
	EntryPriceUSD float64   `json:"entry_price_usd"`
	EntrySpot     float64   `json:"entry_spot"`
	EntryTime     time.Time `json:"entry_time"`

	CurrentPrice float64 `json:"current_price"`
	CurrentSpot  float64 `json:"current_spot"`
	IV           float64 `json:"iv"`
	Greeks       Greeks  `json:"greeks"`

	LegGroup   string `json:"leg_group,omitempty"`
	IsHedge    bool   `json:"is_hedge,omitempty"`
	WheelPhase int    `json:"wheel_phase,omitempty"`
}

// Validate checks the structural invariants of a position.
func (p *OptionPosition) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("position missing ID")
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("position %s: quantity must be positive, got %.8f", p.ID, p.Quantity)
	}
	if p.Side != Buy && p.Side != Sell {
		return fmt.Errorf("position %s: invalid side %q", p.ID, p.Side)
	}
	if p.Type != Call && p.Type != Put {
		return fmt.Errorf("position %s: invalid type %q", p.ID, p.Type)
	}
	return nil
}

// Spot returns the freshest spot reference for the position.
func (p *OptionPosition) Spot() float64 {
	if p.CurrentSpot > 0 {
		return p.CurrentSpot
	}
	return p.EntrySpot
}

// PnLUSD is sign * (current - entry) * quantity * spot.
func (p *OptionPosition) PnLUSD() float64 {
	return p.Side.Sign() * (p.CurrentPrice - p.EntryPrice) * p.Quantity * p.Spot()
}

// PnLPct is PnL relative to the entry premium.
func (p *OptionPosition) PnLPct() float64 {
	base := p.EntryPriceUSD * p.Quantity
	if base <= 0 {
		return 0
	}
	return p.PnLUSD() / base * 100
}

// DTE is days to expiration, floored at zero.
func (p *OptionPosition) DTE(now time.Time) float64 {
	d := p.Expiry.Sub(now).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// IsExpired reports whether now is at or past expiry.
func (p *OptionPosition) IsExpired(now time.Time) bool {
	return !now.Before(p.Expiry)
}

// Intrinsic returns the settlement value at the given spot.
func (p *OptionPosition) Intrinsic(spot float64) float64 {
	if p.Type == Call {
		return max(spot-p.Strike, 0)
	}
	return max(p.Strike-spot, 0)
}

// SpotPosition is a spot holding. In paper mode it lives in-process; in live
// mode it mirrors the venue balance.
type SpotPosition struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"` // long or short (perp only)
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
}
