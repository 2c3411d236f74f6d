package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

// fakeBook is a scripted OptionsBook.
type fakeBook struct {
	value     float64
	greeks    models.Greeks
	premium   float64
	positions map[string]models.OptionPosition
}

var _ OptionsBook = (*fakeBook)(nil)

func (b *fakeBook) GetPortfolioValue() float64       { return b.value }
func (b *fakeBook) GetPortfolioGreeks() models.Greeks { return b.greeks }
func (b *fakeBook) GetPremiumAtRisk() float64        { return b.premium }
func (b *fakeBook) GetPositions() map[string]models.OptionPosition {
	out := make(map[string]models.OptionPosition, len(b.positions))
	for k, v := range b.positions {
		out[k] = v
	}
	return out
}
func (b *fakeBook) GetOpenPositionCount() int { return len(b.positions) }

func newTestOptionsManager(cfg OptionsConfig) (*OptionsManager, *time.Time) {
	m := NewOptionsManager(cfg)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func positionsOn(underlying string, n int) map[string]models.OptionPosition {
	out := map[string]models.OptionPosition{}
	for i := 0; i < n; i++ {
		id := underlying + string(rune('a'+i))
		out[id] = models.OptionPosition{
			ID: id, Underlying: underlying,
			Type: models.Call, Side: models.Buy, Quantity: 1,
		}
	}
	return out
}

func TestOptionsTradeAllowed(t *testing.T) {
	m, _ := newTestOptionsManager(OptionsConfig{})
	m.SeedPortfolio(100000)

	book := &fakeBook{value: 100000}
	v := m.CheckCanTrade(book, OptionsTradeCheck{
		ProposedPremiumUSD: 1000,
		Side:               models.Buy,
		Underlying:         "BTC",
	})
	assert.True(t, v.Allowed)
}

func TestMaxPositionsPerUnderlying(t *testing.T) {
	m, _ := newTestOptionsManager(OptionsConfig{MaxPositionsPerUnderlying: 2, MaxPositions: 10})
	m.SeedPortfolio(100000)

	book := &fakeBook{value: 100000, positions: positionsOn("BTC", 2)}
	v := m.CheckCanTrade(book, OptionsTradeCheck{Underlying: "BTC", Side: models.Buy})
	require.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "Max positions for BTC")

	// A different underlying is unaffected.
	v = m.CheckCanTrade(book, OptionsTradeCheck{Underlying: "ETH", Side: models.Buy})
	assert.True(t, v.Allowed)
}

func TestSingleTradePremiumCap(t *testing.T) {
	m, _ := newTestOptionsManager(OptionsConfig{MaxSingleTradePremiumPct: 5})
	m.SeedPortfolio(10000)

	book := &fakeBook{value: 10000}
	v := m.CheckCanTrade(book, OptionsTradeCheck{
		ProposedPremiumUSD: 600, // 6% of the portfolio
		Side:               models.Buy,
		Underlying:         "BTC",
	})
	require.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "Trade premium")
}

func TestPremiumAtRiskCapOnBuys(t *testing.T) {
	m, _ := newTestOptionsManager(OptionsConfig{MaxPremiumAtRiskPct: 30, MaxSingleTradePremiumPct: 50})
	m.SeedPortfolio(10000)

	book := &fakeBook{value: 10000, premium: 2800}
	v := m.CheckCanTrade(book, OptionsTradeCheck{
		ProposedPremiumUSD: 400, // pushes at-risk to 32%
		Side:               models.Buy,
		Underlying:         "BTC",
	})
	require.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "Premium at risk")

	// Sells are not bounded by premium at risk.
	v = m.CheckCanTrade(book, OptionsTradeCheck{
		ProposedPremiumUSD: 400,
		Side:               models.Sell,
		Underlying:         "BTC",
	})
	assert.True(t, v.Allowed)
}

func TestGreeksLimits(t *testing.T) {
	m, _ := newTestOptionsManager(OptionsConfig{
		MaxPortfolioDelta: 2,
		MaxPortfolioGamma: 1,
		MaxPortfolioVega:  100,
	})

	ok := m.CheckGreeksLimits(&fakeBook{greeks: models.Greeks{Delta: 1.5, Gamma: 0.5, Vega: 50}})
	assert.True(t, ok.WithinLimits)

	bad := m.CheckGreeksLimits(&fakeBook{greeks: models.Greeks{Delta: 3, Gamma: -2, Vega: 150}})
	require.False(t, bad.WithinLimits)
	assert.Len(t, bad.Violations, 3)
}

func TestHedgeBudget(t *testing.T) {
	m, now := newTestOptionsManager(OptionsConfig{MaxMonthlyHedgeCostPct: 2})

	// 2% of $10 000 = $200/month.
	assert.True(t, m.CheckHedgeBudget(150, 10000))
	m.RecordHedgeSpend(150)

	assert.False(t, m.CheckHedgeBudget(100, 10000), "over the monthly budget")
	assert.True(t, m.CheckHedgeBudget(50, 10000), "exactly at the budget")

	// The budget rolls after thirty days.
	*now = now.Add(31 * 24 * time.Hour)
	assert.True(t, m.CheckHedgeBudget(200, 10000))
}

func TestOptionsBreakerLifecycle(t *testing.T) {
	m, now := newTestOptionsManager(OptionsConfig{MaxConsecutiveLosses: 2, CooldownMinutes: 45})
	m.SeedPortfolio(100000)
	book := &fakeBook{value: 100000}

	m.RecordTradeResult(-100)
	m.RecordTradeResult(-100)

	v := m.CheckCanTrade(book, OptionsTradeCheck{Underlying: "BTC"})
	require.False(t, v.Allowed)

	*now = now.Add(46 * time.Minute)
	v = m.CheckCanTrade(book, OptionsTradeCheck{Underlying: "BTC"})
	assert.True(t, v.Allowed)
}

func TestMaxLossScenario(t *testing.T) {
	m, _ := newTestOptionsManager(OptionsConfig{})
	book := &fakeBook{
		value: 100000,
		positions: map[string]models.OptionPosition{
			"long-call": {
				ID: "long-call", Underlying: "BTC", Type: models.Call, Side: models.Buy,
				Quantity: 1, Strike: 50000, CurrentPrice: 0.05, CurrentSpot: 50000,
			},
		},
	}
	s := m.MaxLossScenario(book, 10)
	// Long call: gains if up, loses premium if down.
	assert.Greater(t, s.PnLIfUp, 0.0)
	assert.Less(t, s.PnLIfDown, 0.0)
	assert.Equal(t, s.WorstCase, s.PnLIfDown)
}
