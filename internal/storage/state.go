package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
	"github.com/eddiefleurent/threat_level_midnight/internal/options"
	"github.com/eddiefleurent/threat_level_midnight/internal/risk"
)

// maxTradeHistory bounds the spot trade log kept in the snapshot.
const maxTradeHistory = 1000

// BotState is everything the bot needs to resume after a restart.
type BotState struct {
	Iteration     int                `json:"iteration"`
	LastTick      time.Time          `json:"last_tick"`
	SpotRisk      risk.State         `json:"spot_risk"`
	OptionsRisk   risk.OptionsState  `json:"options_risk"`
	OptionsBook   options.Snapshot   `json:"options_book"`
	SpotBalances  map[string]float64 `json:"spot_balances,omitempty"`
	SpotPositions map[string]float64 `json:"spot_positions,omitempty"`
	SpotTrades    []models.Order     `json:"spot_trades,omitempty"`
	LastUpdated   time.Time          `json:"last_updated"`
}

// StateStore persists BotState as pretty-printed JSON. Saves go through a
// temp file and rename so a crash mid-write never corrupts the snapshot.
type StateStore struct {
	mu   sync.RWMutex
	path string
}

// NewStateStore builds a store at path, creating parent directories.
func NewStateStore(path string) (*StateStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return &StateStore{path: path}, nil
}

// Load reads the snapshot. A missing file returns (nil, nil) so first boot
// starts clean.
func (s *StateStore) Load() (*BotState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	var state BotState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding state file %s: %w", s.path, err)
	}
	return &state, nil
}

// Save writes the snapshot atomically, trimming the trade log to its cap.
func (s *StateStore) Save(state *BotState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.LastUpdated = time.Now().UTC()
	if len(state.SpotTrades) > maxTradeHistory {
		state.SpotTrades = state.SpotTrades[len(state.SpotTrades)-maxTradeHistory:]
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing state temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
