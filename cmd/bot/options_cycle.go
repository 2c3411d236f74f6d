package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/eddiefleurent/threat_level_midnight/internal/metrics"
	"github.com/eddiefleurent/threat_level_midnight/internal/models"
	"github.com/eddiefleurent/threat_level_midnight/internal/options"
	"github.com/eddiefleurent/threat_level_midnight/internal/risk"
	"github.com/eddiefleurent/threat_level_midnight/internal/strategy"
)

// optionsTick is one scheduler iteration on the options book: settle
// expiries, re-mark the book, refresh risk bookkeeping, then let every
// strategy manage and evaluate each underlying.
func (b *Bot) optionsTick(ctx context.Context) {
	if settled, pnl, err := b.book.HandleExpiries(ctx); err != nil {
		b.logger.Printf("Expiry handling: %v", err)
	} else if len(settled) > 0 {
		b.logger.Printf("Settled %d expired positions, PnL $%+.2f", len(settled), pnl)
		b.optRisk.RecordTradeResult(pnl)
	}

	if err := b.book.UpdatePositions(ctx); err != nil {
		b.logger.Printf("Mark update: %v", err)
	}

	pv := b.book.GetPortfolioValue()
	b.optRisk.ResetDaily(pv)
	b.optRisk.UpdatePeak(pv)
	metrics.EquityGauge.Set(pv)
	metrics.PositionsOpen.WithLabelValues("options").Set(float64(b.book.GetOpenPositionCount()))

	if report := b.optRisk.CheckGreeksLimits(b.book); !report.WithinLimits {
		b.sink.RiskAlert("Greeks limits breached: " + strings.Join(report.Violations, "; "))
	}

	for _, underlying := range b.cfg.Trading.Underlyings {
		for _, strat := range b.strategies {
			for _, action := range strat.ManagePositions(ctx, underlying) {
				b.executeAction(ctx, strat.Name(), action)
			}
			for _, action := range strat.Evaluate(ctx, underlying) {
				if !b.admitEntry(strat.Name(), underlying, action) {
					continue
				}
				b.executeAction(ctx, strat.Name(), action)
			}
		}
	}

	b.statusLine()
}

// admitEntry gates new entries on the per-strategy position cap and the
// trade-quality score. Management actions bypass it.
func (b *Bot) admitEntry(stratName, underlying string, action models.Action) bool {
	switch action.Type {
	case models.ActionNone:
		b.logger.Printf("[%s %s] %s", stratName, underlying, action.Reason)
		return false
	case models.ActionClose, models.ActionCloseGroup, models.ActionRoll:
		return true
	}

	existing := b.book.GetPositionsForUnderlying(underlying)
	if len(existing) >= strategy.MaxPositionsPerStrategy {
		b.logger.Printf("[%s %s] Max positions reached (%d/%d)",
			stratName, underlying, len(existing), strategy.MaxPositionsPerStrategy)
		return false
	}

	spot, err := b.book.GetSpotPrice(context.Background(), underlying)
	if err != nil {
		b.logger.Printf("[%s %s] spot unavailable: %v", stratName, underlying, err)
		return false
	}
	score, reason := strategy.ScoreTrade(action, existing, spot)
	if score < strategy.MinScoreThreshold {
		b.logger.Printf("[%s %s] Rejected %s (score %.2f): %s",
			stratName, underlying, action.Type, score, reason)
		return false
	}
	return true
}

// executeAction dispatches one strategy intent against the adapter, with
// the risk check in front of every entry.
func (b *Bot) executeAction(ctx context.Context, stratName string, action models.Action) {
	var err error
	switch action.Type {
	case models.ActionBuyCall, models.ActionBuyPut:
		err = b.openSingle(ctx, action, models.Buy)
	case models.ActionSellCall, models.ActionSellPut:
		err = b.openSingle(ctx, action, models.Sell)
	case models.ActionBuyStraddle:
		err = b.openPair(ctx, action, true)
	case models.ActionSellStrangle:
		err = b.openPair(ctx, action, false)
	case models.ActionClose:
		var pnl float64
		if pnl, err = b.book.ClosePosition(ctx, action.PositionID); err == nil {
			b.optRisk.RecordTradeResult(pnl)
			b.sink.TradeAlert(action.PositionID, "close", action.Quantity, 0, &pnl)
		}
	case models.ActionCloseGroup:
		var pnl float64
		if pnl, err = b.book.CloseLegGroup(ctx, action.LegGroup); err == nil {
			b.optRisk.RecordTradeResult(pnl)
			b.sink.TradeAlert(action.LegGroup, "close_group", 0, 0, &pnl)
		}
	case models.ActionRoll:
		// A roll is a close now; the strategy re-enters on the next tick.
		var pnl float64
		if pnl, err = b.book.ClosePosition(ctx, action.PositionID); err == nil {
			b.optRisk.RecordTradeResult(pnl)
			b.logger.Printf("[%s] Rolled out of %s, re-entry next cycle: %s",
				stratName, action.PositionID, action.Reason)
		}
	case models.ActionNone:
		b.logger.Printf("[%s] %s", stratName, action.Reason)
		return
	default:
		err = fmt.Errorf("unknown action type %q", action.Type)
	}

	if err != nil {
		metrics.OrdersFailed.WithLabelValues("options").Inc()
		b.logger.Printf("[%s] %s failed: %v", stratName, action.Type, err)
		return
	}
	metrics.ActionsExecuted.WithLabelValues(stratName, string(action.Type)).Inc()
}

func (b *Bot) openSingle(ctx context.Context, action models.Action, side models.OptionSide) error {
	c := action.Contract
	if c == nil {
		return fmt.Errorf("%s action carries no contract", action.Type)
	}
	premium := c.Mid() * c.SpotPrice * action.Quantity

	verdict := b.optRisk.CheckCanTrade(b.book, risk.OptionsTradeCheck{
		ProposedPremiumUSD: premium,
		Side:               side,
		Underlying:         c.Underlying,
	})
	if !verdict.Allowed {
		metrics.RiskDenials.WithLabelValues("options").Inc()
		b.sink.RiskAlert(verdict.Reason)
		return nil
	}

	var opts []options.OpenOpt
	if action.IsHedge {
		opts = append(opts, options.AsHedge())
	}
	if action.WheelPhase > 0 {
		opts = append(opts, options.WithWheelPhase(action.WheelPhase))
	}

	var err error
	if side == models.Buy {
		_, err = b.book.BuyOption(ctx, c, action.Quantity, opts...)
	} else {
		_, err = b.book.SellOption(ctx, c, action.Quantity, opts...)
	}
	if err != nil {
		return err
	}
	if action.IsHedge {
		b.optRisk.RecordHedgeSpend(premium)
	}
	b.sink.TradeAlert(c.Symbol, string(side), action.Quantity, c.Mid()*c.SpotPrice, nil)
	return nil
}

func (b *Bot) openPair(ctx context.Context, action models.Action, straddle bool) error {
	spot, err := b.book.GetSpotPrice(ctx, action.Underlying)
	if err != nil {
		return err
	}
	side := models.Sell
	if straddle {
		side = models.Buy
	}
	// Rough both-legs premium for the risk check; fills are re-priced leg
	// by leg inside the adapter.
	premium := spot * 0.05 * action.Quantity * 2

	verdict := b.optRisk.CheckCanTrade(b.book, risk.OptionsTradeCheck{
		ProposedPremiumUSD: premium,
		Side:               side,
		Underlying:         action.Underlying,
	})
	if !verdict.Allowed {
		metrics.RiskDenials.WithLabelValues("options").Inc()
		b.sink.RiskAlert(verdict.Reason)
		return nil
	}

	if straddle {
		_, err = b.book.OpenStraddle(ctx, action.Underlying, float64(action.TargetDTE), side, action.Quantity)
	} else {
		_, err = b.book.OpenStrangle(ctx, action.Underlying, float64(action.TargetDTE), action.OTMPct, side, action.Quantity)
	}
	if err != nil {
		return err
	}
	name := "strangle"
	if straddle {
		name = "straddle"
	}
	b.sink.TradeAlert(action.Underlying+" "+name, string(side), action.Quantity, spot, nil)
	return nil
}

// statusLine prints the one-line per-iteration summary.
func (b *Bot) statusLine() {
	pv := b.book.GetPortfolioValue()
	pnl := pv - b.cfg.Trading.InitialCapital
	pnlPct := pnl / b.cfg.Trading.InitialCapital * 100
	greeks := b.book.GetPortfolioGreeks()

	metrics.PortfolioDelta.Set(greeks.Delta)
	metrics.PortfolioTheta.Set(greeks.Theta)

	b.logger.Printf("[Iter %d] Portfolio: $%.2f (%+.2f / %+.2f%%) | Cash: $%.2f | Positions: %d | Δ: %+.3f | Θ: $%+.2f/day",
		b.iteration, pv, pnl, pnlPct,
		b.book.GetCash(), b.book.GetOpenPositionCount(),
		greeks.Delta, greeks.Theta)
}
