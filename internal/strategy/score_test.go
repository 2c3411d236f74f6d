package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

func scorePos(strike float64, typ models.OptionType, side models.OptionSide, expiry time.Time, delta float64) models.OptionPosition {
	return models.OptionPosition{
		ID:            "p-" + string(typ),
		Symbol:        "BTC-TEST",
		Underlying:    "BTC",
		Strike:        strike,
		Expiry:        expiry,
		Type:          typ,
		Side:          side,
		Quantity:      1,
		EntryPrice:    0.02,
		EntryPriceUSD: 1000,
		EntrySpot:     50000,
		Greeks:        models.Greeks{Delta: delta},
	}
}

func scoreContract(strike float64, typ models.OptionType, expiry time.Time, delta float64) *models.OptionContract {
	return &models.OptionContract{
		Symbol:    "BTC-PROPOSED",
		Underlying: "BTC",
		Strike:    strike,
		Expiry:    expiry,
		Type:      typ,
		Bid:       0.019,
		Ask:       0.021,
		SpotPrice: 50000,
		Greeks:    models.Greeks{Delta: delta},
	}
}

func TestScoreFirstPosition(t *testing.T) {
	action := models.Action{Type: models.ActionBuyCall, Contract: scoreContract(55000, models.Call, time.Now(), 0.3)}
	score, reason := ScoreTrade(action, nil, 50000)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, "first position", reason)
}

func TestScoreMultiLegUnscored(t *testing.T) {
	action := models.Action{Type: models.ActionSellStrangle, Underlying: "BTC"}
	score, reason := ScoreTrade(action, []models.OptionPosition{scorePos(50000, models.Call, models.Buy, time.Now(), 0.5)}, 50000)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, "multi-leg structure", reason)
}

func TestScoreOverlappingStrikesPenalized(t *testing.T) {
	expiry := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	existing := []models.OptionPosition{scorePos(55000, models.Call, models.Buy, expiry, 0.3)}

	// Same strike, same expiry, stacking delta past 0.5.
	action := models.Action{Type: models.ActionBuyCall, Contract: scoreContract(55200, models.Call, expiry, 0.3)}
	score, _ := ScoreTrade(action, existing, 50000)
	// 0.5 - 0.3 (overlap) - 0.1 (same expiry) - 0.3 (delta concentration)
	assert.InDelta(t, -0.2, score, 1e-9)
	assert.Less(t, score, MinScoreThreshold)
}

func TestScoreDiversifiedEntry(t *testing.T) {
	expiry := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	farExpiry := expiry.AddDate(0, 1, 0)
	existing := []models.OptionPosition{scorePos(55000, models.Call, models.Buy, expiry, 0.3)}

	// Far strike, new expiry, delta-balancing put.
	action := models.Action{Type: models.ActionBuyPut, Contract: scoreContract(45000, models.Put, farExpiry, -0.25)}
	score, reason := ScoreTrade(action, existing, 50000)
	// 0.5 + 0.3 (new expiry) + 0.2 (delta balancing); no same-type strikes.
	assert.InDelta(t, 1.0, score, 1e-9)
	assert.Contains(t, reason, "different expiry")
	assert.GreaterOrEqual(t, score, MinScoreThreshold)
}

func TestScoreSellPremiumBonus(t *testing.T) {
	expiry := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	short := scorePos(60000, models.Call, models.Sell, expiry, -0.2)
	short.EntryPriceUSD = 500

	// Proposed sell at mid 0.02 * 50000 = $1000 > 1.1 * $500 average.
	c := scoreContract(45000, models.Put, expiry.AddDate(0, 1, 0), -0.1)
	action := models.Action{Type: models.ActionSellPut, Contract: c}
	score, reason := ScoreTrade(action, []models.OptionPosition{short}, 50000)
	assert.Contains(t, reason, "better premium")
	assert.Greater(t, score, 0.5)
}
