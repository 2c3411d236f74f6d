package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/threat_level_midnight/internal/alerts"
	"github.com/eddiefleurent/threat_level_midnight/internal/broker"
	"github.com/eddiefleurent/threat_level_midnight/internal/config"
	"github.com/eddiefleurent/threat_level_midnight/internal/dashboard"
	"github.com/eddiefleurent/threat_level_midnight/internal/exchange"
	"github.com/eddiefleurent/threat_level_midnight/internal/marketdata"
	"github.com/eddiefleurent/threat_level_midnight/internal/mock"
	"github.com/eddiefleurent/threat_level_midnight/internal/options"
	"github.com/eddiefleurent/threat_level_midnight/internal/risk"
	"github.com/eddiefleurent/threat_level_midnight/internal/storage"
	"github.com/eddiefleurent/threat_level_midnight/internal/strategy"
)

// stateFlushInterval is how often the background worker persists the book.
const stateFlushInterval = 30 * time.Second

// Bot owns every long-lived component and drives the tick loop.
type Bot struct {
	cfg    *config.Config
	logger *log.Logger
	sink   *alerts.Sink

	db    *storage.DB
	store *storage.StateStore

	// Spot side.
	spotAdapter exchange.Adapter
	fetcher     *marketdata.Fetcher
	spotRisk    *risk.Manager
	entryPrices map[string]float64

	// Options side.
	book       *options.Adapter
	optRisk    *risk.OptionsManager
	strategies []strategy.OptionsStrategy

	dash      *dashboard.Server
	iteration int
}

// NewBot wires the adapters, risk managers, strategies, and persistence
// from the config. useMock swaps both venues for the synthetic provider.
func NewBot(cfg *config.Config, logger *log.Logger, useMock bool) (*Bot, error) {
	b := &Bot{cfg: cfg, logger: logger, entryPrices: map[string]float64{}}

	var spotMarket broker.SpotMarketData
	var optMarket broker.OptionsMarketData
	if useMock {
		provider := mock.NewMockDataProvider(0, 0, time.Now().UnixNano())
		spotMarket = provider
		optMarket = provider
	} else {
		spotMarket = broker.NewSpotBreaker(broker.NewKrakenClient())
		optMarket = broker.NewOptionsBreaker(broker.NewDeribitClient(cfg.Venues.Options.Sandbox))
	}

	db, err := storage.OpenDB(cfg.Storage.DatabasePath)
	if err != nil {
		// The candle cache is an optimization; run without it.
		logger.Printf("Candle cache unavailable: %v", err)
	} else {
		b.db = db
	}

	store, err := storage.NewStateStore(cfg.Storage.StatePath)
	if err != nil {
		return nil, fmt.Errorf("initializing state store: %w", err)
	}
	b.store = store

	var emitters []alerts.Emitter
	if cfg.Alerts.DiscordToken != "" {
		emitter, err := alerts.NewDiscordEmitter(
			cfg.Alerts.DiscordToken, cfg.Alerts.DiscordChannelID,
			alerts.Level(cfg.Alerts.DiscordMinLevel))
		if err != nil {
			logger.Printf("Discord alerts disabled: %v", err)
		} else {
			emitters = append(emitters, emitter)
		}
	}
	b.sink = alerts.NewSink(cfg.Alerts.Quiet, logger, emitters...)

	b.fetcher = marketdata.NewFetcher(spotMarket, b.db, cfg.Venues.Spot.Provider, logger)
	b.spotRisk = risk.NewManager(cfg.SpotRisk)
	b.optRisk = risk.NewOptionsManager(cfg.OptionsRisk)

	if cfg.IsPaperTrading() {
		b.spotAdapter = exchange.NewPaperAdapter(spotMarket, "USD", cfg.Trading.InitialCapital)
	} else {
		liveAdapter, err := exchange.NewKrakenLiveAdapter(spotMarket,
			cfg.Venues.Spot.APIKey, cfg.Venues.Spot.APISecret)
		if err != nil {
			return nil, fmt.Errorf("initializing live adapter: %w", err)
		}
		b.spotAdapter = liveAdapter
	}

	b.book = options.NewAdapter(optMarket, cfg.Trading.InitialCapital, logger)
	b.spotRisk.SeedPortfolio(cfg.Trading.InitialCapital)
	b.optRisk.SeedPortfolio(cfg.Trading.InitialCapital)

	if cfg.Trading.Mode == "options" {
		if err := b.initOptionsStrategies(); err != nil {
			return nil, err
		}
	} else if _, err := strategy.GetSpot(cfg.Trading.Strategy); err != nil {
		return nil, err
	}

	if err := b.restoreState(); err != nil {
		logger.Printf("State restore failed, starting fresh: %v", err)
	}

	if cfg.Dashboard.Enabled {
		dashLogger := logrus.New()
		if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
			dashLogger.SetLevel(level)
		}
		b.dash = dashboard.NewServer(dashboard.Config{
			Listen:    cfg.Dashboard.Listen,
			AuthToken: cfg.Dashboard.AuthToken,
		}, b.book, b.optRisk, b.sink, dashLogger)
	}

	return b, nil
}

// initOptionsStrategies instantiates the configured strategy, or every
// registered one when the name is "all".
func (b *Bot) initOptionsStrategies() error {
	deps := strategy.OptionsDeps{
		Adapter:  b.book,
		Risk:     b.optRisk,
		Holdings: b.spotAdapter,
	}
	names := []string{b.cfg.Trading.Strategy}
	if b.cfg.Trading.Strategy == "all" {
		names = strategy.OptionsStrategies()
	}
	for _, name := range names {
		entry, err := strategy.GetOptions(name)
		if err != nil {
			return err
		}
		b.strategies = append(b.strategies, entry.New(deps))
	}
	return nil
}

func (b *Bot) restoreState() error {
	state, err := b.store.Load()
	if err != nil || state == nil {
		return err
	}
	b.iteration = state.Iteration
	b.spotRisk.Restore(state.SpotRisk)
	b.optRisk.Restore(state.OptionsRisk)
	if len(state.OptionsBook.Positions) > 0 || state.OptionsBook.Cash > 0 {
		b.book.Restore(state.OptionsBook)
	}
	b.logger.Printf("Restored state: iteration %d, %d option positions",
		state.Iteration, len(state.OptionsBook.Positions))
	return nil
}

func (b *Bot) saveState() {
	state := &storage.BotState{
		Iteration:   b.iteration,
		LastTick:    time.Now().UTC(),
		SpotRisk:    b.spotRisk.State(),
		OptionsRisk: b.optRisk.State(),
		OptionsBook: b.book.Snapshot(),
		SpotTrades:  b.spotAdapter.GetTradeHistory(),
	}
	if balances, err := b.spotAdapter.GetBalance(context.Background()); err == nil {
		state.SpotBalances = balances
	}
	if err := b.store.Save(state); err != nil {
		b.logger.Printf("State save failed: %v", err)
	}
}

// Run drives the tick loop plus the dashboard and the state-flush worker
// until the context is cancelled or the iteration cap is hit.
func (b *Bot) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if b.dash != nil {
		g.Go(func() error {
			if err := b.dash.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return b.dash.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(stateFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				b.saveState()
			}
		}
	})

	g.Go(func() error {
		defer b.finalReport()
		ticker := time.NewTicker(b.cfg.GetTickInterval())
		defer ticker.Stop()

		b.tick(ctx)
		for {
			if b.cfg.Trading.MaxIterations > 0 && b.iteration >= b.cfg.Trading.MaxIterations {
				b.logger.Printf("Reached %d iterations, stopping", b.iteration)
				return context.Canceled
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				b.tick(ctx)
			}
		}
	})

	err := g.Wait()
	b.saveState()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *Bot) tick(ctx context.Context) {
	b.iteration++
	if b.cfg.Trading.Mode == "options" {
		b.optionsTick(ctx)
	} else {
		b.spotTick(ctx)
	}
}

// Close releases the database handle.
func (b *Bot) Close() {
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			b.logger.Printf("Closing database: %v", err)
		}
	}
}

func (b *Bot) finalReport() {
	line := strings.Repeat("=", 60)
	b.logger.Println(line)
	b.logger.Println("  FINAL REPORT")
	b.logger.Println(line)

	if b.cfg.Trading.Mode == "options" {
		pv := b.book.GetPortfolioValue()
		pnl := pv - b.cfg.Trading.InitialCapital
		pnlPct := pnl / b.cfg.Trading.InitialCapital * 100
		b.logger.Printf("  Portfolio: $%.2f (%+.2f / %+.2f%%)", pv, pnl, pnlPct)
		b.logger.Printf("  Cash:      $%.2f", b.book.GetCash())
		b.logger.Printf("  Positions: %d open", b.book.GetOpenPositionCount())
		b.logger.Printf("  Trades:    %d", len(b.book.GetTradeHistory()))
		b.logger.Println(b.optRisk.FormatStatus(b.book))
	} else {
		if pv, err := b.spotAdapter.GetPortfolioValue(context.Background(), "USD"); err == nil {
			pnl := pv - b.cfg.Trading.InitialCapital
			b.logger.Printf("  Portfolio: $%.2f (%+.2f / %+.2f%%)",
				pv, pnl, pnl/b.cfg.Trading.InitialCapital*100)
		}
		b.logger.Printf("  Trades:    %d", len(b.spotAdapter.GetTradeHistory()))
		b.logger.Println(b.spotRisk.FormatStatus())
	}
	b.logger.Println(b.sink.FormatHistory(10))
}
