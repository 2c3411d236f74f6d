package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testBars(n int) models.Series {
	bars := make(models.Series, n)
	for i := range bars {
		ts := int64(1_700_000_000_000) + int64(i)*3_600_000
		bars[i] = models.Bar{
			Timestamp: ts,
			Open:      100 + float64(i),
			High:      101 + float64(i),
			Low:       99 + float64(i),
			Close:     100.5 + float64(i),
			Volume:    10,
		}
	}
	return bars
}

func TestOHLCVRoundTrip(t *testing.T) {
	db := openTestDB(t)
	bars := testBars(5)

	require.NoError(t, db.StoreOHLCV("kraken", "BTC/USD", "1h", bars))

	loaded, err := db.LoadOHLCV("kraken", "BTC/USD", "1h", 0, 0)
	require.NoError(t, err)
	require.Len(t, loaded, 5)
	assert.Equal(t, bars[0].Timestamp, loaded[0].Timestamp)
	assert.InDelta(t, bars[4].Close, loaded[4].Close, 1e-12)

	// Bounded load.
	loaded, err = db.LoadOHLCV("kraken", "BTC/USD", "1h", bars[1].Timestamp, bars[3].Timestamp)
	require.NoError(t, err)
	assert.Len(t, loaded, 3)
}

func TestOHLCVUpsertReplaces(t *testing.T) {
	db := openTestDB(t)
	bars := testBars(3)
	require.NoError(t, db.StoreOHLCV("kraken", "BTC/USD", "1h", bars))

	// Re-store the middle bar with a revised close.
	bars[1].Close = 999
	require.NoError(t, db.StoreOHLCV("kraken", "BTC/USD", "1h", bars[1:2]))

	loaded, err := db.LoadOHLCV("kraken", "BTC/USD", "1h", 0, 0)
	require.NoError(t, err)
	require.Len(t, loaded, 3, "upsert must not duplicate")
	assert.InDelta(t, 999, loaded[1].Close, 1e-12)
}

func TestLatestTimestamp(t *testing.T) {
	db := openTestDB(t)

	ts, err := db.LatestTimestamp("kraken", "BTC/USD", "1h")
	require.NoError(t, err)
	assert.Zero(t, ts, "empty table")

	bars := testBars(4)
	require.NoError(t, db.StoreOHLCV("kraken", "BTC/USD", "1h", bars))

	ts, err = db.LatestTimestamp("kraken", "BTC/USD", "1h")
	require.NoError(t, err)
	assert.Equal(t, bars[3].Timestamp, ts)

	// Other keys stay isolated.
	ts, err = db.LatestTimestamp("kraken", "ETH/USD", "1h")
	require.NoError(t, err)
	assert.Zero(t, ts)
}

func TestAccumulatorRoundTrip(t *testing.T) {
	db := openTestDB(t)

	type streak struct {
		Losses int     `json:"losses"`
		PnL    float64 `json:"pnl"`
	}

	var missing streak
	found, err := db.LoadAccumulator("never-saved", &missing)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, db.SaveAccumulator("streak", streak{Losses: 3, PnL: -42.5}))
	require.NoError(t, db.SaveAccumulator("streak", streak{Losses: 4, PnL: -50}))

	var got streak
	found, err = db.LoadAccumulator("streak", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 4, got.Losses, "upsert keeps the latest payload")
	assert.InDelta(t, -50, got.PnL, 1e-12)
}

func TestBacktestResults(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.StoreBacktestResult(BacktestResult{
		StrategyName:   "sma_crossover",
		Symbol:         "BTC/USD",
		Timeframe:      "1h",
		StartDate:      "2026-01-01",
		EndDate:        "2026-03-01",
		InitialCapital: 10000,
		FinalCapital:   11200,
		TotalReturnPct: 12,
		TotalTrades:    8,
		Params:         map[string]any{"fast": 20.0, "slow": 50.0},
	}))
	require.NoError(t, db.StoreBacktestResult(BacktestResult{
		StrategyName:   "rsi",
		Symbol:         "ETH/USD",
		Timeframe:      "4h",
		StartDate:      "2026-01-01",
		EndDate:        "2026-03-01",
		InitialCapital: 10000,
		FinalCapital:   9800,
	}))

	all, err := db.BacktestResults("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	only, err := db.BacktestResults("sma_crossover")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "BTC/USD", only[0].Symbol)
	assert.InDelta(t, 12, only[0].TotalReturnPct, 1e-12)
	assert.Equal(t, 50.0, only[0].Params["slow"])
}
