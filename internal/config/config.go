// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/threat_level_midnight/internal/risk"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig  `yaml:"environment"`
	Venues      VenuesConfig       `yaml:"venues"`
	Trading     TradingConfig      `yaml:"trading"`
	SpotRisk    risk.Config        `yaml:"spot_risk"`
	OptionsRisk risk.OptionsConfig `yaml:"options_risk"`
	Alerts      AlertsConfig       `yaml:"alerts"`
	Storage     StorageConfig      `yaml:"storage"`
	Dashboard   DashboardConfig    `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// VenuesConfig defines the venue endpoints and credentials.
type VenuesConfig struct {
	Spot    SpotVenueConfig    `yaml:"spot"`
	Options OptionsVenueConfig `yaml:"options"`
}

// SpotVenueConfig configures the spot venue (Kraken).
type SpotVenueConfig struct {
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// OptionsVenueConfig configures the options venue (Deribit).
type OptionsVenueConfig struct {
	Provider string `yaml:"provider"`
	Sandbox  bool   `yaml:"sandbox"`
	APIKey   string `yaml:"api_key"`
}

// TradingConfig defines what the scheduler trades and how often.
type TradingConfig struct {
	Mode           string   `yaml:"mode"` // spot | options
	Strategy       string   `yaml:"strategy"`
	Symbols        []string `yaml:"symbols"`
	Underlyings    []string `yaml:"underlyings"`
	Timeframe      string   `yaml:"timeframe"`
	InitialCapital float64  `yaml:"initial_capital"`
	TickInterval   string   `yaml:"tick_interval"`
	MaxIterations  int      `yaml:"max_iterations"` // 0 = unbounded
}

// AlertsConfig configures the alert sink and the Discord emitter.
type AlertsConfig struct {
	Quiet            bool   `yaml:"quiet"`
	DiscordToken     string `yaml:"discord_token"`
	DiscordChannelID string `yaml:"discord_channel_id"`
	DiscordMinLevel  string `yaml:"discord_min_level"`
}

// StorageConfig defines where the bot persists its data.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	StatePath    string `yaml:"state_path"`
}

// DashboardConfig configures the HTTP dashboard.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()
	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Default returns the stock paper-mode configuration used when no config
// file exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	c.applyEnvOverrides()
	return c
}

func (c *Config) applyDefaults() {
	if c.Environment.Mode == "" {
		c.Environment.Mode = "paper"
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Venues.Spot.Provider == "" {
		c.Venues.Spot.Provider = "kraken"
	}
	if c.Venues.Options.Provider == "" {
		c.Venues.Options.Provider = "deribit"
	}
	if c.Trading.Mode == "" {
		c.Trading.Mode = "spot"
	}
	if c.Trading.Strategy == "" {
		c.Trading.Strategy = "sma_crossover"
	}
	if len(c.Trading.Symbols) == 0 {
		c.Trading.Symbols = []string{"BTC/USD"}
	}
	if len(c.Trading.Underlyings) == 0 {
		c.Trading.Underlyings = []string{"BTC"}
	}
	if c.Trading.Timeframe == "" {
		c.Trading.Timeframe = "1h"
	}
	if c.Trading.InitialCapital == 0 {
		c.Trading.InitialCapital = 10000
	}
	if c.Trading.TickInterval == "" {
		c.Trading.TickInterval = "60s"
	}
	if c.Alerts.DiscordMinLevel == "" {
		c.Alerts.DiscordMinLevel = "warning"
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "data/bot.db"
	}
	if c.Storage.StatePath == "" {
		c.Storage.StatePath = "data/state.json"
	}
	if c.Dashboard.Listen == "" {
		c.Dashboard.Listen = ":8080"
	}
}

// applyEnvOverrides lets credentials come from the environment so they
// never have to live in the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("KRAKEN_API_KEY"); v != "" {
		c.Venues.Spot.APIKey = v
	}
	if v := os.Getenv("KRAKEN_API_SECRET"); v != "" {
		c.Venues.Spot.APISecret = v
	}
	if v := os.Getenv("DERIBIT_API_KEY"); v != "" {
		c.Venues.Options.APIKey = v
	}
	if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		c.Alerts.DiscordToken = v
	}
	if v := os.Getenv("DISCORD_CHANNEL_ID"); v != "" {
		c.Alerts.DiscordChannelID = v
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	if c.Trading.Mode != "spot" && c.Trading.Mode != "options" {
		return fmt.Errorf("trading.mode must be 'spot' or 'options'")
	}
	if c.Trading.InitialCapital <= 0 {
		return fmt.Errorf("trading.initial_capital must be > 0")
	}
	if _, err := time.ParseDuration(c.Trading.TickInterval); err != nil {
		return fmt.Errorf("trading.tick_interval invalid: %w", err)
	}
	if c.Trading.MaxIterations < 0 {
		return fmt.Errorf("trading.max_iterations must be >= 0")
	}
	if c.Trading.Mode == "spot" && len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("trading.symbols is required in spot mode")
	}
	if c.Trading.Mode == "options" && len(c.Trading.Underlyings) == 0 {
		return fmt.Errorf("trading.underlyings is required in options mode")
	}

	// Live mode must be impossible to reach without credentials.
	if c.Environment.Mode == "live" {
		if c.Venues.Spot.APIKey == "" || c.Venues.Spot.APISecret == "" {
			return fmt.Errorf("live mode requires venues.spot.api_key and api_secret")
		}
	}

	if c.Alerts.DiscordToken != "" && c.Alerts.DiscordChannelID == "" {
		return fmt.Errorf("alerts.discord_channel_id is required when a token is set")
	}
	return nil
}

// IsPaperTrading reports whether the bot simulates fills.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// GetTickInterval returns the parsed scheduler interval.
func (c *Config) GetTickInterval() time.Duration {
	d, err := time.ParseDuration(c.Trading.TickInterval)
	if err != nil {
		return 60 * time.Second
	}
	return d
}
