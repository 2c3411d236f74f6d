package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContractMid(t *testing.T) {
	c := &OptionContract{Bid: 0.036, Ask: 0.04, Last: 0.05}
	assert.InDelta(t, 0.038, c.Mid(), 1e-12)

	c = &OptionContract{Last: 0.05}
	assert.InDelta(t, 0.05, c.Mid(), 1e-12, "falls back to last")
}

func TestContractDTEFloorsAtZero(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	c := &OptionContract{Expiry: now.Add(48 * time.Hour)}
	assert.InDelta(t, 2, c.DTE(now), 1e-9)

	c.Expiry = now.Add(-time.Hour)
	assert.Zero(t, c.DTE(now))
}

func TestContractMoneyness(t *testing.T) {
	atm := &OptionContract{Type: Call, Strike: 50500, SpotPrice: 50000}
	assert.Equal(t, ATM, atm.Moneyness(), "inside the 2% band")

	itmCall := &OptionContract{Type: Call, Strike: 45000, SpotPrice: 50000}
	assert.Equal(t, ITM, itmCall.Moneyness())

	otmCall := &OptionContract{Type: Call, Strike: 60000, SpotPrice: 50000}
	assert.Equal(t, OTM, otmCall.Moneyness())

	itmPut := &OptionContract{Type: Put, Strike: 60000, SpotPrice: 50000}
	assert.Equal(t, ITM, itmPut.Moneyness())
}

func TestContractIntrinsic(t *testing.T) {
	call := &OptionContract{Type: Call, Strike: 50000}
	assert.InDelta(t, 5000, call.Intrinsic(55000), 1e-12)
	assert.Zero(t, call.Intrinsic(45000))

	put := &OptionContract{Type: Put, Strike: 50000}
	assert.InDelta(t, 5000, put.Intrinsic(45000), 1e-12)
	assert.Zero(t, put.Intrinsic(55000))
}

func TestPositionPnL(t *testing.T) {
	long := &OptionPosition{
		Side: Buy, Quantity: 2,
		EntryPrice: 0.04, EntryPriceUSD: 2000, EntrySpot: 50000,
		CurrentPrice: 0.05, CurrentSpot: 50000,
	}
	assert.InDelta(t, 1000, long.PnLUSD(), 1e-9)
	assert.InDelta(t, 25, long.PnLPct(), 1e-9)

	short := &OptionPosition{
		Side: Sell, Quantity: 2,
		EntryPrice: 0.04, EntryPriceUSD: 2000, EntrySpot: 50000,
		CurrentPrice: 0.05, CurrentSpot: 50000,
	}
	assert.InDelta(t, -1000, short.PnLUSD(), 1e-9)
}

func TestPositionSpotFallsBackToEntry(t *testing.T) {
	p := &OptionPosition{EntrySpot: 48000}
	assert.InDelta(t, 48000, p.Spot(), 1e-12)
	p.CurrentSpot = 52000
	assert.InDelta(t, 52000, p.Spot(), 1e-12)
}

func TestPositionIsExpired(t *testing.T) {
	expiry := time.Date(2026, 4, 3, 8, 0, 0, 0, time.UTC)
	p := &OptionPosition{Expiry: expiry}
	assert.False(t, p.IsExpired(expiry.Add(-time.Minute)))
	assert.True(t, p.IsExpired(expiry), "at expiry counts as expired")
	assert.True(t, p.IsExpired(expiry.Add(time.Minute)))
}

func TestPositionValidate(t *testing.T) {
	valid := &OptionPosition{ID: "p1", Quantity: 1, Side: Buy, Type: Call}
	require.NoError(t, valid.Validate())

	assert.Error(t, (&OptionPosition{Quantity: 1, Side: Buy, Type: Call}).Validate())
	assert.Error(t, (&OptionPosition{ID: "p", Quantity: 0, Side: Buy, Type: Call}).Validate())
	assert.Error(t, (&OptionPosition{ID: "p", Quantity: 1, Side: "hold", Type: Call}).Validate())
	assert.Error(t, (&OptionPosition{ID: "p", Quantity: 1, Side: Buy, Type: "swap"}).Validate())
}

func TestSideSign(t *testing.T) {
	assert.Equal(t, 1.0, Buy.Sign())
	assert.Equal(t, -1.0, Sell.Sign())
}
