package main

import (
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/threat_level_midnight/internal/mock"
	"github.com/eddiefleurent/threat_level_midnight/internal/models"
	"github.com/eddiefleurent/threat_level_midnight/internal/options"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"BTC/USD", "ETH/USD"}, splitList("BTC/USD, ETH/USD"))
	assert.Equal(t, []string{"BTC"}, splitList("BTC"))
	assert.Nil(t, splitList(""))
	assert.Nil(t, splitList(" , "))
}

func TestBaseAsset(t *testing.T) {
	assert.Equal(t, "BTC", baseAsset("BTC/USD"))
	assert.Equal(t, "ETH", baseAsset("ETH/USDT"))
	assert.Equal(t, "SOLUSD", baseAsset("SOLUSD"), "no separator returns the symbol")
}

func TestAdmitEntryGating(t *testing.T) {
	book := options.NewAdapter(mock.NewMockDataProvider(50000, 0.65, 1), 100_000, log.New(io.Discard, "", 0))
	b := &Bot{
		logger: log.New(io.Discard, "", 0),
		book:   book,
	}

	// Management actions always pass.
	assert.True(t, b.admitEntry("wheel", "BTC", models.Action{Type: models.ActionClose}))
	assert.True(t, b.admitEntry("wheel", "BTC", models.Action{Type: models.ActionRoll}))

	// A hold never executes.
	assert.False(t, b.admitEntry("wheel", "BTC", models.Action{
		Type: models.ActionNone, Reason: "nothing to do",
	}))

	// First entry on an empty book scores 1.0 and passes.
	entry := models.Action{
		Type:       models.ActionBuyCall,
		Underlying: "BTC",
		Contract: &models.OptionContract{
			Symbol: "BTC-TEST", Underlying: "BTC", Strike: 55000,
			Type: models.Call, Bid: 0.019, Ask: 0.021, SpotPrice: 50000,
		},
	}
	assert.True(t, b.admitEntry("momentum", "BTC", entry))
}

func TestAdmitEntryPositionCap(t *testing.T) {
	book := options.NewAdapter(mock.NewMockDataProvider(50000, 0.65, 1), 100_000, log.New(io.Discard, "", 0))

	// Fill the book up to the per-strategy cap by hand.
	snap := book.Snapshot()
	snap.Positions = map[string]models.OptionPosition{}
	for i := 0; i < 4; i++ {
		id := string(rune('a' + i))
		snap.Positions[id] = models.OptionPosition{
			ID: id, Underlying: "BTC", Type: models.Call, Side: models.Buy, Quantity: 1,
		}
	}
	book.Restore(snap)

	b := &Bot{logger: log.New(io.Discard, "", 0), book: book}
	entry := models.Action{
		Type:       models.ActionBuyCall,
		Underlying: "BTC",
		Contract:   &models.OptionContract{Symbol: "BTC-TEST", Underlying: "BTC", SpotPrice: 50000},
	}
	require.False(t, b.admitEntry("momentum", "BTC", entry))

	// Other underlyings are unaffected by the cap.
	entry.Underlying = "ETH"
	entry.Contract.Underlying = "ETH"
	assert.True(t, b.admitEntry("momentum", "ETH", entry))
}
