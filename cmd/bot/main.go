// Command bot runs the trading scheduler: spot strategies against the
// unified exchange adapter, or options strategies against the paper options
// venue, with risk checks, alerts, persistence, and a dashboard.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eddiefleurent/threat_level_midnight/internal/config"
)

func main() {
	var (
		configPath    string
		mode          string
		strategyName  string
		symbols       string
		underlyings   string
		timeframe     string
		capital       float64
		live          bool
		useMock       bool
		interval      time.Duration
		maxIterations int
		quiet         bool

		apiKey         string
		apiSecret      string
		maxDrawdown    float64
		dailyLossLimit float64
		maxPositions   int
		maxDelta       float64
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&mode, "mode", "", "Trading mode: spot or options")
	flag.StringVar(&strategyName, "strategy", "", "Strategy name")
	flag.StringVar(&symbols, "symbols", "", "Comma-separated spot symbols, e.g. BTC/USD,ETH/USD")
	flag.StringVar(&underlyings, "underlyings", "", "Comma-separated option underlyings, e.g. BTC,ETH")
	flag.StringVar(&timeframe, "timeframe", "", "Candle timeframe, e.g. 1h")
	flag.Float64Var(&capital, "capital", 0, "Initial paper capital in USD")
	flag.BoolVar(&live, "live", false, "Trade with real money on the spot venue")
	flag.BoolVar(&useMock, "mock", false, "Use the synthetic market data provider")
	flag.DurationVar(&interval, "interval", 0, "Scheduler tick interval")
	flag.IntVar(&maxIterations, "max-iterations", 0, "Stop after N iterations (0 = run forever)")
	flag.BoolVar(&quiet, "quiet", false, "Suppress alert output on stdout")
	flag.StringVar(&apiKey, "api-key", "", "Spot venue API key (live mode)")
	flag.StringVar(&apiSecret, "api-secret", "", "Spot venue API secret (live mode)")
	flag.Float64Var(&maxDrawdown, "max-drawdown", 0, "Max drawdown percent before the kill switch")
	flag.Float64Var(&dailyLossLimit, "daily-loss-limit", 0, "Daily loss limit percent")
	flag.IntVar(&maxPositions, "max-positions", 0, "Max open option positions")
	flag.Float64Var(&maxDelta, "max-delta", 0, "Max absolute portfolio delta")
	flag.Parse()

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags)

	cfg, err := loadConfig(configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Flags override the file.
	if mode != "" {
		cfg.Trading.Mode = mode
	}
	if strategyName != "" {
		cfg.Trading.Strategy = strategyName
	}
	if symbols != "" {
		cfg.Trading.Symbols = splitList(symbols)
	}
	if underlyings != "" {
		cfg.Trading.Underlyings = splitList(underlyings)
	}
	if timeframe != "" {
		cfg.Trading.Timeframe = timeframe
	}
	if capital > 0 {
		cfg.Trading.InitialCapital = capital
	}
	if live {
		cfg.Environment.Mode = "live"
	}
	if interval > 0 {
		cfg.Trading.TickInterval = interval.String()
	}
	if maxIterations > 0 {
		cfg.Trading.MaxIterations = maxIterations
	}
	if quiet {
		cfg.Alerts.Quiet = true
	}
	if apiKey != "" {
		cfg.Venues.Spot.APIKey = apiKey
	}
	if apiSecret != "" {
		cfg.Venues.Spot.APISecret = apiSecret
	}
	if maxDrawdown > 0 {
		cfg.SpotRisk.MaxDrawdownPct = maxDrawdown
		cfg.OptionsRisk.MaxDrawdownPct = maxDrawdown
	}
	if dailyLossLimit > 0 {
		cfg.SpotRisk.DailyLossLimitPct = dailyLossLimit
		cfg.OptionsRisk.DailyLossLimitPct = dailyLossLimit
	}
	if maxPositions > 0 {
		cfg.OptionsRisk.MaxPositions = maxPositions
	}
	if maxDelta > 0 {
		cfg.OptionsRisk.MaxPortfolioDelta = maxDelta
		cfg.OptionsRisk.MinPortfolioDelta = -maxDelta
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	logger.Printf("Starting bot: mode=%s strategy=%s", cfg.Trading.Mode, cfg.Trading.Strategy)
	if cfg.IsPaperTrading() {
		logger.Println("PAPER TRADING MODE - No real money at risk")
	} else {
		logger.Println("LIVE TRADING MODE - Real money at risk!")
		logger.Println("Waiting 5 seconds to confirm...")
		time.Sleep(5 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bot, err := NewBot(cfg, logger, useMock)
	if err != nil {
		logger.Fatalf("Failed to initialize bot: %v", err)
	}
	defer bot.Close()

	if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatalf("Bot error: %v", err)
	}
	logger.Println("Bot stopped")
}

// loadConfig reads the file when given or present, otherwise falls back to
// defaults so the paper bot runs with zero setup.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return config.Load("config.yaml")
	}
	return config.Default(), nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
