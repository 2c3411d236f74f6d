package storage

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
	"github.com/eddiefleurent/threat_level_midnight/internal/risk"
)

func TestStateStoreMissingFile(t *testing.T) {
	store, err := NewStateStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	state, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, state, "first boot starts clean")
}

func TestStateStoreRoundTrip(t *testing.T) {
	store, err := NewStateStore(filepath.Join(t.TempDir(), "nested", "dir", "state.json"))
	require.NoError(t, err)

	in := &BotState{
		Iteration: 42,
		SpotRisk: risk.State{
			PeakPortfolioValue: 12000,
			ConsecutiveLosses:  2,
			Day:                "2026-03-10",
		},
		SpotBalances: map[string]float64{"USDT": 9499.25},
	}
	require.NoError(t, store.Save(in))

	out, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 42, out.Iteration)
	assert.InDelta(t, 12000, out.SpotRisk.PeakPortfolioValue, 1e-12)
	assert.Equal(t, 2, out.SpotRisk.ConsecutiveLosses)
	assert.InDelta(t, 9499.25, out.SpotBalances["USDT"], 1e-12)
	assert.False(t, out.LastUpdated.IsZero())
}

func TestStateStoreTrimsTradeLog(t *testing.T) {
	store, err := NewStateStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	state := &BotState{}
	for i := 0; i < maxTradeHistory+10; i++ {
		state.SpotTrades = append(state.SpotTrades, models.Order{ID: fmt.Sprintf("order_%d", i)})
	}
	require.NoError(t, store.Save(state))

	out, err := store.Load()
	require.NoError(t, err)
	require.Len(t, out.SpotTrades, maxTradeHistory)
	assert.Equal(t, "order_10", out.SpotTrades[0].ID, "oldest trades dropped")
}
