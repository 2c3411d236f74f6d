package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
environment:
  mode: paper
  log_level: debug
trading:
  mode: options
  strategy: volatility_breakout
  underlyings: [BTC, ETH]
  initial_capital: 25000
  tick_interval: 30s
dashboard:
  enabled: true
  listen: ":9090"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Environment.Mode)
	assert.True(t, cfg.IsPaperTrading())
	assert.Equal(t, "options", cfg.Trading.Mode)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Trading.Underlyings)
	assert.InDelta(t, 25000, cfg.Trading.InitialCapital, 1e-12)
	assert.Equal(t, 30*time.Second, cfg.GetTickInterval())
	assert.Equal(t, ":9090", cfg.Dashboard.Listen)

	// Defaults fill what the file omits.
	assert.Equal(t, "kraken", cfg.Venues.Spot.Provider)
	assert.Equal(t, "deribit", cfg.Venues.Options.Provider)
	assert.Equal(t, "1h", cfg.Trading.Timeframe)
	assert.Equal(t, "data/state.json", cfg.Storage.StatePath)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
environment:
  mode: paper
  log_levle: debug
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_DB_PATH", "/tmp/candles.db")
	path := writeConfig(t, `
storage:
  database_path: ${TEST_DB_PATH}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/candles.db", cfg.Storage.DatabasePath)
}

func TestEnvOverridesBeatFileValues(t *testing.T) {
	t.Setenv("KRAKEN_API_KEY", "env-key")
	t.Setenv("KRAKEN_API_SECRET", "env-secret")
	path := writeConfig(t, `
venues:
  spot:
    api_key: file-key
    api_secret: file-secret
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Venues.Spot.APIKey)
	assert.Equal(t, "env-secret", cfg.Venues.Spot.APISecret)
}

func TestValidateRejectsBadModes(t *testing.T) {
	cfg := Default()
	cfg.Environment.Mode = "production"
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Trading.Mode = "futures"
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Trading.InitialCapital = -5
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Trading.TickInterval = "soon"
	require.Error(t, cfg.Validate())
}

func TestValidateLiveRequiresCredentials(t *testing.T) {
	cfg := Default()
	cfg.Environment.Mode = "live"
	cfg.Venues.Spot.APIKey = ""
	cfg.Venues.Spot.APISecret = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "live mode requires")

	cfg.Venues.Spot.APIKey = "k"
	cfg.Venues.Spot.APISecret = "s"
	assert.NoError(t, cfg.Validate())
}

func TestValidateDiscordTokenNeedsChannel(t *testing.T) {
	cfg := Default()
	cfg.Alerts.DiscordToken = "token"
	cfg.Alerts.DiscordChannelID = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord_channel_id")
}

func TestDefaultIsValidPaperConfig(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsPaperTrading())
	assert.Equal(t, "sma_crossover", cfg.Trading.Strategy)
	assert.Equal(t, 60*time.Second, cfg.GetTickInterval())
}

func TestGetTickIntervalFallback(t *testing.T) {
	cfg := &Config{}
	cfg.Trading.TickInterval = "garbage"
	assert.Equal(t, 60*time.Second, cfg.GetTickInterval())
}
