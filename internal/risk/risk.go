// Package risk implements the pre-trade rule engines: a spot manager and an
// options manager sharing the same circuit-breaker spine. Checks return a
// Verdict rather than an error; a denial is an expected outcome, not a
// failure.
package risk

import (
	"fmt"
	"sync"
	"time"
)

// Verdict is the outcome of a risk check.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func allow() Verdict              { return Verdict{Allowed: true, Reason: "OK"} }
func deny(format string, args ...any) Verdict {
	return Verdict{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Config bounds spot trading. Fields are percentages unless suffixed USD.
type Config struct {
	MaxPositionSizePct  float64 `yaml:"max_position_size_pct"`
	MaxPositionSizeUSD  float64 `yaml:"max_position_size_usd"`
	MaxNumPositions     int     `yaml:"max_num_positions"`
	MaxTotalExposurePct float64 `yaml:"max_total_exposure_pct"`
	MaxSingleAssetPct   float64 `yaml:"max_single_asset_pct"`
	DailyLossLimitPct   float64 `yaml:"daily_loss_limit_pct"`
	MaxDrawdownPct      float64 `yaml:"max_drawdown_pct"`
	PerTradeStopLossPct float64 `yaml:"per_trade_stop_loss_pct"`
	MaxConsecutiveLosses int    `yaml:"max_consecutive_losses"`
	CooldownMinutes      int    `yaml:"cooldown_minutes"`
}

// DefaultConfig returns the stock spot risk limits.
func DefaultConfig() Config {
	return Config{
		MaxPositionSizePct:   20.0,
		MaxPositionSizeUSD:   5000.0,
		MaxNumPositions:      5,
		MaxTotalExposurePct:  80.0,
		MaxSingleAssetPct:    30.0,
		DailyLossLimitPct:    5.0,
		MaxDrawdownPct:       15.0,
		PerTradeStopLossPct:  3.0,
		MaxConsecutiveLosses: 5,
		CooldownMinutes:      60,
	}
}

// TradeRecord is one entry in the append-only trade log.
type TradeRecord struct {
	PnL               float64   `json:"pnl"`
	Timestamp         time.Time `json:"timestamp"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
}

// State is the mutable risk bookkeeping, serialized with the bot state so a
// restart does not forget an active breaker.
type State struct {
	PeakPortfolioValue float64       `json:"peak_portfolio_value"`
	DailyStartValue    float64       `json:"daily_start_value"`
	DailyPnL           float64       `json:"daily_pnl"`
	ConsecutiveLosses  int           `json:"consecutive_losses"`
	CircuitBreakActive bool          `json:"circuit_break_active"`
	CircuitBreakUntil  time.Time     `json:"circuit_break_until"`
	Day                string        `json:"day"`
	TradeLog           []TradeRecord `json:"trade_log"`
}

// Manager enforces the spot rule set. Safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	config Config
	state  State
	now    func() time.Time
}

// NewManager builds a manager with the given config; zero-value fields fall
// back to defaults.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.MaxPositionSizePct == 0 {
		cfg.MaxPositionSizePct = def.MaxPositionSizePct
	}
	if cfg.MaxPositionSizeUSD == 0 {
		cfg.MaxPositionSizeUSD = def.MaxPositionSizeUSD
	}
	if cfg.MaxNumPositions == 0 {
		cfg.MaxNumPositions = def.MaxNumPositions
	}
	if cfg.MaxTotalExposurePct == 0 {
		cfg.MaxTotalExposurePct = def.MaxTotalExposurePct
	}
	if cfg.MaxSingleAssetPct == 0 {
		cfg.MaxSingleAssetPct = def.MaxSingleAssetPct
	}
	if cfg.DailyLossLimitPct == 0 {
		cfg.DailyLossLimitPct = def.DailyLossLimitPct
	}
	if cfg.MaxDrawdownPct == 0 {
		cfg.MaxDrawdownPct = def.MaxDrawdownPct
	}
	if cfg.PerTradeStopLossPct == 0 {
		cfg.PerTradeStopLossPct = def.PerTradeStopLossPct
	}
	if cfg.MaxConsecutiveLosses == 0 {
		cfg.MaxConsecutiveLosses = def.MaxConsecutiveLosses
	}
	if cfg.CooldownMinutes == 0 {
		cfg.CooldownMinutes = def.CooldownMinutes
	}
	return &Manager{config: cfg, now: time.Now}
}

// Config returns a copy of the static limits.
func (m *Manager) Config() Config {
	return m.config
}

// State returns a snapshot of the mutable bookkeeping.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.TradeLog = append([]TradeRecord(nil), m.state.TradeLog...)
	return s
}

// Restore replaces the bookkeeping, used when loading persisted bot state.
func (m *Manager) Restore(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// SeedPortfolio initializes peak and daily-start tracking at boot.
func (m *Manager) SeedPortfolio(value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.PeakPortfolioValue = value
	m.state.DailyStartValue = value
	m.state.Day = m.now().UTC().Format("2006-01-02")
}

// ResetDaily rolls the daily bookkeeping when the UTC day changes.
func (m *Manager) ResetDaily(portfolioValue float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetDailyLocked(portfolioValue)
}

func (m *Manager) resetDailyLocked(portfolioValue float64) {
	today := m.now().UTC().Format("2006-01-02")
	if today != m.state.Day {
		m.state.Day = today
		m.state.DailyStartValue = portfolioValue
		m.state.DailyPnL = 0
		if portfolioValue > m.state.PeakPortfolioValue {
			m.state.PeakPortfolioValue = portfolioValue
		}
	}
}

// UpdatePeak raises the peak portfolio value (monotonic).
func (m *Manager) UpdatePeak(portfolioValue float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if portfolioValue > m.state.PeakPortfolioValue {
		m.state.PeakPortfolioValue = portfolioValue
	}
}

// RecordTradeResult books a realized PnL; any non-negative result resets the
// consecutive-loss counter.
func (m *Manager) RecordTradeResult(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.DailyPnL += pnl
	if pnl < 0 {
		m.state.ConsecutiveLosses++
	} else {
		m.state.ConsecutiveLosses = 0
	}
	m.state.TradeLog = append(m.state.TradeLog, TradeRecord{
		PnL:               pnl,
		Timestamp:         m.now().UTC(),
		ConsecutiveLosses: m.state.ConsecutiveLosses,
	})
}

// TradeCheck carries the proposed-trade details for CheckCanTrade.
type TradeCheck struct {
	PortfolioValue   float64
	ProposedTradeUSD float64
	Symbol           string
	// CurrentPositions maps base asset to its USD value.
	CurrentPositions map[string]float64
}

// CheckCanTrade evaluates the rules in order; the first failure
// short-circuits with its reason.
func (m *Manager) CheckCanTrade(c TradeCheck) Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetDailyLocked(c.PortfolioValue)

	if v, done := m.breakerCheckLocked(c.PortfolioValue); done {
		return v
	}

	if c.ProposedTradeUSD > 0 {
		maxByPct := c.PortfolioValue * m.config.MaxPositionSizePct / 100
		maxAllowed := min(maxByPct, m.config.MaxPositionSizeUSD)
		if c.ProposedTradeUSD > maxAllowed {
			return deny("Position too large: $%.2f > limit $%.2f", c.ProposedTradeUSD, maxAllowed)
		}
	}

	active := map[string]float64{}
	var totalExposure float64
	for asset, usd := range c.CurrentPositions {
		if usd > 0 {
			active[asset] = usd
			totalExposure += usd
		}
	}
	if len(active) >= m.config.MaxNumPositions {
		base := baseAsset(c.Symbol)
		if _, held := active[base]; !held {
			return deny("Max positions reached: %d/%d", len(active), m.config.MaxNumPositions)
		}
	}

	if totalExposure > 0 && c.PortfolioValue > 0 {
		exposurePct := (totalExposure + c.ProposedTradeUSD) / c.PortfolioValue * 100
		if exposurePct > m.config.MaxTotalExposurePct {
			return deny("Total exposure would exceed %.0f%%", m.config.MaxTotalExposurePct)
		}
	}

	return allow()
}

// breakerCheckLocked runs the shared breaker spine: active cooldown, loss
// cluster, daily loss, drawdown kill switch. Returns done=true when the
// check is decided here.
func (m *Manager) breakerCheckLocked(portfolioValue float64) (Verdict, bool) {
	now := m.now().UTC()

	if m.state.CircuitBreakActive {
		if now.Before(m.state.CircuitBreakUntil) {
			remaining := int(m.state.CircuitBreakUntil.Sub(now).Minutes())
			return deny("Circuit breaker active. Cooldown: %dmin remaining", remaining), true
		}
		m.state.CircuitBreakActive = false
		m.state.ConsecutiveLosses = 0
	}

	if m.state.ConsecutiveLosses >= m.config.MaxConsecutiveLosses {
		m.tripLocked()
		return deny("Circuit breaker: %d consecutive losses", m.state.ConsecutiveLosses), true
	}

	if m.state.DailyStartValue > 0 {
		dailyPct := m.state.DailyPnL / m.state.DailyStartValue * 100
		if dailyPct <= -m.config.DailyLossLimitPct {
			m.tripLocked()
			return deny("Daily loss limit hit: %.2f%% (limit: -%.1f%%)", dailyPct, m.config.DailyLossLimitPct), true
		}
	}

	if m.state.PeakPortfolioValue > 0 {
		ddPct := (portfolioValue - m.state.PeakPortfolioValue) / m.state.PeakPortfolioValue * 100
		if ddPct <= -m.config.MaxDrawdownPct {
			m.tripLocked()
			return deny("KILL SWITCH: Max drawdown %.2f%% (limit: -%.1f%%)", ddPct, m.config.MaxDrawdownPct), true
		}
	}

	return Verdict{}, false
}

func (m *Manager) tripLocked() {
	m.state.CircuitBreakActive = true
	m.state.CircuitBreakUntil = m.now().UTC().Add(time.Duration(m.config.CooldownMinutes) * time.Minute)
}

// CalculatePositionSize returns a notional in quote currency: stop-based
// sizing when a stop is supplied, always capped by the fixed-fractional
// limit.
func (m *Manager) CalculatePositionSize(portfolioValue, entryPrice, stopLossPrice float64) float64 {
	maxByPct := portfolioValue * m.config.MaxPositionSizePct / 100
	maxAllowed := min(maxByPct, m.config.MaxPositionSizeUSD)

	if stopLossPrice > 0 && entryPrice > 0 {
		riskPerTrade := portfolioValue * m.config.PerTradeStopLossPct / 100
		priceRisk := abs(entryPrice-stopLossPrice) / entryPrice
		if priceRisk > 0 {
			return min(riskPerTrade/priceRisk, maxAllowed)
		}
	}
	return maxAllowed
}

// StopLossPrice returns the default stop for an entry.
func (m *Manager) StopLossPrice(entryPrice float64, side string) float64 {
	stopPct := m.config.PerTradeStopLossPct / 100
	if side == "short" {
		return entryPrice * (1 + stopPct)
	}
	return entryPrice * (1 - stopPct)
}

// FormatStatus renders the human-readable status block printed at shutdown.
func (m *Manager) FormatStatus() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	breaker := "OK"
	if m.state.CircuitBreakActive {
		breaker = "ACTIVE"
	}
	return fmt.Sprintf(`
%[1]s
  RISK MANAGER STATUS
%[1]s
  Circuit Breaker:    %s
  Consecutive Losses: %d/%d
  Daily PnL:          $%+.2f
  Peak Portfolio:     $%.2f
  Max Position Size:  %.0f%% / $%.0f
  Daily Loss Limit:   -%.1f%%
  Max Drawdown:       -%.1f%%
%[1]s`,
		divider,
		breaker,
		m.state.ConsecutiveLosses, m.config.MaxConsecutiveLosses,
		m.state.DailyPnL,
		m.state.PeakPortfolioValue,
		m.config.MaxPositionSizePct, m.config.MaxPositionSizeUSD,
		m.config.DailyLossLimitPct,
		m.config.MaxDrawdownPct,
	)
}

const divider = "--------------------------------------------------"

func baseAsset(symbol string) string {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '/' {
			return symbol[:i]
		}
	}
	return symbol
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
