package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

// OptionsBook is the view of the options portfolio the risk manager needs.
// The options adapter implements it; getters return copies.
type OptionsBook interface {
	GetPortfolioValue() float64
	GetPortfolioGreeks() models.Greeks
	GetPremiumAtRisk() float64
	GetPositions() map[string]models.OptionPosition
	GetOpenPositionCount() int
}

// OptionsConfig bounds options trading.
type OptionsConfig struct {
	MaxPremiumAtRiskPct      float64 `yaml:"max_premium_at_risk_pct"`
	MaxSingleTradePremiumPct float64 `yaml:"max_single_trade_premium_pct"`
	MaxMonthlyHedgeCostPct   float64 `yaml:"max_monthly_hedge_cost_pct"`

	MaxPositions              int `yaml:"max_positions"`
	MaxPositionsPerUnderlying int `yaml:"max_positions_per_underlying"`

	MaxPortfolioDelta float64 `yaml:"max_portfolio_delta"`
	MinPortfolioDelta float64 `yaml:"min_portfolio_delta"`
	MaxPortfolioGamma float64 `yaml:"max_portfolio_gamma"`
	MaxPortfolioVega  float64 `yaml:"max_portfolio_vega"`

	MaxDrawdownPct      float64 `yaml:"max_drawdown_pct"`
	DailyLossLimitPct   float64 `yaml:"daily_loss_limit_pct"`
	PerTradeStopLossPct float64 `yaml:"per_trade_stop_loss_pct"`

	MaxConsecutiveLosses int `yaml:"max_consecutive_losses"`
	CooldownMinutes      int `yaml:"cooldown_minutes"`
}

// DefaultOptionsConfig returns the stock options risk limits.
func DefaultOptionsConfig() OptionsConfig {
	return OptionsConfig{
		MaxPremiumAtRiskPct:       30.0,
		MaxSingleTradePremiumPct:  5.0,
		MaxMonthlyHedgeCostPct:    2.0,
		MaxPositions:              10,
		MaxPositionsPerUnderlying: 5,
		MaxPortfolioDelta:         5.0,
		MinPortfolioDelta:         -5.0,
		MaxPortfolioGamma:         2.0,
		MaxPortfolioVega:          500.0,
		MaxDrawdownPct:            20.0,
		DailyLossLimitPct:         5.0,
		PerTradeStopLossPct:       30.0,
		MaxConsecutiveLosses:      4,
		CooldownMinutes:           60,
	}
}

// OptionsState is the serialized bookkeeping for the options manager.
type OptionsState struct {
	State
	MonthlyHedgeSpend float64   `json:"monthly_hedge_spend"`
	MonthlyHedgeReset time.Time `json:"monthly_hedge_reset"`
}

// OptionsManager enforces the options rule set: the shared breaker spine
// plus premium, position-count, Greeks, and hedge-budget limits.
type OptionsManager struct {
	mu     sync.Mutex
	config OptionsConfig
	state  OptionsState
	now    func() time.Time
}

// NewOptionsManager builds a manager; zero-value config fields take
// defaults. MinPortfolioDelta is mirrored from MaxPortfolioDelta when unset.
func NewOptionsManager(cfg OptionsConfig) *OptionsManager {
	def := DefaultOptionsConfig()
	if cfg.MaxPremiumAtRiskPct == 0 {
		cfg.MaxPremiumAtRiskPct = def.MaxPremiumAtRiskPct
	}
	if cfg.MaxSingleTradePremiumPct == 0 {
		cfg.MaxSingleTradePremiumPct = def.MaxSingleTradePremiumPct
	}
	if cfg.MaxMonthlyHedgeCostPct == 0 {
		cfg.MaxMonthlyHedgeCostPct = def.MaxMonthlyHedgeCostPct
	}
	if cfg.MaxPositions == 0 {
		cfg.MaxPositions = def.MaxPositions
	}
	if cfg.MaxPositionsPerUnderlying == 0 {
		cfg.MaxPositionsPerUnderlying = def.MaxPositionsPerUnderlying
	}
	if cfg.MaxPortfolioDelta == 0 {
		cfg.MaxPortfolioDelta = def.MaxPortfolioDelta
	}
	if cfg.MinPortfolioDelta == 0 {
		cfg.MinPortfolioDelta = -cfg.MaxPortfolioDelta
	}
	if cfg.MaxPortfolioGamma == 0 {
		cfg.MaxPortfolioGamma = def.MaxPortfolioGamma
	}
	if cfg.MaxPortfolioVega == 0 {
		cfg.MaxPortfolioVega = def.MaxPortfolioVega
	}
	if cfg.MaxDrawdownPct == 0 {
		cfg.MaxDrawdownPct = def.MaxDrawdownPct
	}
	if cfg.DailyLossLimitPct == 0 {
		cfg.DailyLossLimitPct = def.DailyLossLimitPct
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
	return &OptionsManager{config: cfg, now: time.Now}
}

// Config returns a copy of the static limits.
func (m *OptionsManager) Config() OptionsConfig {
	return m.config
}

// State returns a snapshot of the bookkeeping.
func (m *OptionsManager) State() OptionsState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.TradeLog = append([]TradeRecord(nil), m.state.TradeLog...)
	return s
}

// Restore replaces the bookkeeping from persisted state.
func (m *OptionsManager) Restore(s OptionsState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// SeedPortfolio initializes peak and daily-start tracking at boot.
func (m *OptionsManager) SeedPortfolio(value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.PeakPortfolioValue = value
	m.state.DailyStartValue = value
	m.state.Day = m.now().UTC().Format("2006-01-02")
}

// ResetDaily rolls daily bookkeeping when the UTC day changes.
func (m *OptionsManager) ResetDaily(portfolioValue float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetDailyLocked(portfolioValue)
}

func (m *OptionsManager) resetDailyLocked(portfolioValue float64) {
	today := m.now().UTC().Format("2006-01-02")
	if today != m.state.Day {
		m.state.Day = today
		m.state.DailyStartValue = portfolioValue
		m.state.DailyPnL = 0
	}
}

// UpdatePeak raises the peak portfolio value.
func (m *OptionsManager) UpdatePeak(portfolioValue float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if portfolioValue > m.state.PeakPortfolioValue {
		m.state.PeakPortfolioValue = portfolioValue
	}
}

// RecordTradeResult books a realized PnL.
func (m *OptionsManager) RecordTradeResult(pnl float64) {
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

// OptionsTradeCheck carries the proposed-trade details for CheckCanTrade.
type OptionsTradeCheck struct {
	ProposedPremiumUSD float64
	Side               models.OptionSide
	Underlying         string
}

// CheckCanTrade evaluates the options rule chain in order against the
// current book.
func (m *OptionsManager) CheckCanTrade(book OptionsBook, c OptionsTradeCheck) Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()

	portfolioValue := book.GetPortfolioValue()
	m.resetDailyLocked(portfolioValue)

	now := m.now().UTC()
	if m.state.CircuitBreakActive {
		if now.Before(m.state.CircuitBreakUntil) {
			remaining := int(m.state.CircuitBreakUntil.Sub(now).Minutes())
			return deny("Circuit breaker active (%dmin remaining)", remaining)
		}
		m.state.CircuitBreakActive = false
		m.state.ConsecutiveLosses = 0
	}

	if m.state.ConsecutiveLosses >= m.config.MaxConsecutiveLosses {
		m.tripLocked()
		return deny("Circuit breaker: %d consecutive losses", m.state.ConsecutiveLosses)
	}

	if m.state.DailyStartValue > 0 {
		dailyPct := m.state.DailyPnL / m.state.DailyStartValue * 100
		if dailyPct <= -m.config.DailyLossLimitPct {
			m.tripLocked()
			return deny("Daily loss limit: %.1f%%", dailyPct)
		}
	}

	if m.state.PeakPortfolioValue > 0 {
		ddPct := (portfolioValue - m.state.PeakPortfolioValue) / m.state.PeakPortfolioValue * 100
		if ddPct <= -m.config.MaxDrawdownPct {
			m.tripLocked()
			return deny("Max drawdown hit: %.1f%%", ddPct)
		}
	}

	positions := book.GetPositions()
	if len(positions) >= m.config.MaxPositions {
		return deny("Max positions (%d) reached", m.config.MaxPositions)
	}

	if c.Underlying != "" {
		count := 0
		for _, p := range positions {
			if p.Underlying == c.Underlying {
				count++
			}
		}
		if count >= m.config.MaxPositionsPerUnderlying {
			return deny("Max positions for %s (%d) reached", c.Underlying, m.config.MaxPositionsPerUnderlying)
		}
	}

	if c.ProposedPremiumUSD > 0 && portfolioValue > 0 {
		tradePct := c.ProposedPremiumUSD / portfolioValue * 100
		if tradePct > m.config.MaxSingleTradePremiumPct {
			return deny("Trade premium %.1f%% > limit %.1f%%", tradePct, m.config.MaxSingleTradePremiumPct)
		}
	}

	if c.Side == models.Buy && portfolioValue > 0 {
		newTotal := book.GetPremiumAtRisk() + c.ProposedPremiumUSD
		pct := newTotal / portfolioValue * 100
		if pct > m.config.MaxPremiumAtRiskPct {
			return deny("Premium at risk would be %.1f%% > limit %.1f%%", pct, m.config.MaxPremiumAtRiskPct)
		}
	}

	return allow()
}

func (m *OptionsManager) tripLocked() {
	m.state.CircuitBreakActive = true
	m.state.CircuitBreakUntil = m.now().UTC().Add(time.Duration(m.config.CooldownMinutes) * time.Minute)
}

// GreeksReport is the result of a portfolio Greeks limit check.
type GreeksReport struct {
	WithinLimits bool          `json:"within_limits"`
	Violations   []string      `json:"violations"`
	Greeks       models.Greeks `json:"greeks"`
}

// CheckGreeksLimits verifies the portfolio Greeks stay inside their bounds.
func (m *OptionsManager) CheckGreeksLimits(book OptionsBook) GreeksReport {
	g := book.GetPortfolioGreeks()
	var violations []string
	if g.Delta > m.config.MaxPortfolioDelta {
		violations = append(violations, fmt.Sprintf("Delta %.2f > max %.1f", g.Delta, m.config.MaxPortfolioDelta))
	}
	if g.Delta < m.config.MinPortfolioDelta {
		violations = append(violations, fmt.Sprintf("Delta %.2f < min %.1f", g.Delta, m.config.MinPortfolioDelta))
	}
	if abs(g.Gamma) > m.config.MaxPortfolioGamma {
		violations = append(violations, fmt.Sprintf("|Gamma| %.4f > max %.1f", abs(g.Gamma), m.config.MaxPortfolioGamma))
	}
	if abs(g.Vega) > m.config.MaxPortfolioVega {
		violations = append(violations, fmt.Sprintf("|Vega| %.2f > max %.1f", abs(g.Vega), m.config.MaxPortfolioVega))
	}
	return GreeksReport{
		WithinLimits: len(violations) == 0,
		Violations:   violations,
		Greeks:       g,
	}
}

// CheckHedgeBudget reports whether a hedge premium fits the rolling monthly
// budget.
func (m *OptionsManager) CheckHedgeBudget(costUSD, portfolioValue float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetMonthlyHedgeLocked()
	maxSpend := portfolioValue * m.config.MaxMonthlyHedgeCostPct / 100
	return m.state.MonthlyHedgeSpend+costUSD <= maxSpend
}

// RecordHedgeSpend books hedge premium against the monthly budget.
func (m *OptionsManager) RecordHedgeSpend(costUSD float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetMonthlyHedgeLocked()
	m.state.MonthlyHedgeSpend += costUSD
}

func (m *OptionsManager) resetMonthlyHedgeLocked() {
	now := m.now().UTC()
	if m.state.MonthlyHedgeReset.IsZero() || now.Sub(m.state.MonthlyHedgeReset) >= 30*24*time.Hour {
		m.state.MonthlyHedgeSpend = 0
		m.state.MonthlyHedgeReset = now
	}
}

// MarginEstimate is the short-position margin summary.
type MarginEstimate struct {
	EstimatedMargin float64 `json:"estimated_margin"`
	MarginPct       float64 `json:"margin_pct"`
	PortfolioValue  float64 `json:"portfolio_value"`
}

// EstimateMargin approximates venue margin for short positions: premium plus
// OTM distance, floored at 10% of spot per contract.
func (m *OptionsManager) EstimateMargin(book OptionsBook) MarginEstimate {
	var total float64
	for _, pos := range book.GetPositions() {
		if pos.Side != models.Sell {
			continue
		}
		spot := pos.Spot()
		var otmAmount float64
		if pos.Type == models.Call {
			otmAmount = max(spot-pos.Strike, 0)
		} else {
			otmAmount = max(pos.Strike-spot, 0)
		}
		premiumMargin := (pos.CurrentPrice*spot + otmAmount) * pos.Quantity
		minMargin := 0.10 * spot * pos.Quantity
		total += max(premiumMargin, minMargin)
	}
	pv := book.GetPortfolioValue()
	pct := 0.0
	if pv > 0 {
		pct = total / pv * 100
	}
	return MarginEstimate{EstimatedMargin: total, MarginPct: pct, PortfolioValue: pv}
}

// StressScenario revalues every option to intrinsic after a +/- spot move.
// Informative only; it never gates a trade.
type StressScenario struct {
	SpotMovePct float64 `json:"spot_move_pct"`
	PnLIfUp     float64 `json:"pnl_if_up"`
	PnLIfDown   float64 `json:"pnl_if_down"`
	WorstCase   float64 `json:"worst_case"`
}

// MaxLossScenario estimates portfolio PnL under a symmetric spot move.
func (m *OptionsManager) MaxLossScenario(book OptionsBook, spotMovePct float64) StressScenario {
	positions := book.GetPositions()
	scenario := func(mult float64) float64 {
		var total float64
		for _, pos := range positions {
			spot := pos.Spot()
			newSpot := spot * mult
			newValue := pos.Intrinsic(newSpot)
			currentValue := pos.CurrentPrice * spot
			pnl := (newValue - currentValue) * pos.Quantity
			if pos.Side == models.Sell {
				pnl = -pnl
			}
			total += pnl
		}
		return total
	}
	up := scenario(1 + spotMovePct/100)
	down := scenario(1 - spotMovePct/100)
	return StressScenario{
		SpotMovePct: spotMovePct,
		PnLIfUp:     up,
		PnLIfDown:   down,
		WorstCase:   min(up, down),
	}
}

// FormatStatus renders the status block printed at shutdown.
func (m *OptionsManager) FormatStatus(book OptionsBook) string {
	m.mu.Lock()
	losses := m.state.ConsecutiveLosses
	dailyPnL := m.state.DailyPnL
	peak := m.state.PeakPortfolioValue
	m.mu.Unlock()

	pv := book.GetPortfolioValue()
	ddPct := 0.0
	if peak > 0 {
		ddPct = (pv - peak) / peak * 100
	}
	return fmt.Sprintf(`
%[1]s
  OPTIONS RISK MANAGER STATUS
%[1]s
  Consecutive Losses: %d/%d
  Daily PnL:          $%+.2f
  Drawdown:           %.1f%% (max: -%.1f%%)
  Positions:          %d/%d
%[1]s`,
		divider,
		losses, m.config.MaxConsecutiveLosses,
		dailyPnL,
		ddPct, m.config.MaxDrawdownPct,
		book.GetOpenPositionCount(), m.config.MaxPositions,
	)
}
