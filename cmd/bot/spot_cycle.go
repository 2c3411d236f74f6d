package main

import (
	"context"
	"strings"

	"github.com/eddiefleurent/threat_level_midnight/internal/exchange"
	"github.com/eddiefleurent/threat_level_midnight/internal/metrics"
	"github.com/eddiefleurent/threat_level_midnight/internal/models"
	"github.com/eddiefleurent/threat_level_midnight/internal/risk"
	"github.com/eddiefleurent/threat_level_midnight/internal/strategy"
	"github.com/eddiefleurent/threat_level_midnight/internal/util"
)

// spotCandleLookback is how many candles each evaluation sees. Enough for
// the slowest indicator window plus warmup.
const spotCandleLookback = 200

// spotQtyStep is the base-asset quantity precision submitted to the venue.
const spotQtyStep = 1e-8

// spotTick is one scheduler iteration over the spot symbols: refresh
// candles, fire pending stops, then act on the latest strategy signal.
func (b *Bot) spotTick(ctx context.Context) {
	pv, err := b.spotAdapter.GetPortfolioValue(ctx, "USD")
	if err != nil {
		b.logger.Printf("Portfolio value unavailable: %v", err)
		return
	}
	b.spotRisk.ResetDaily(pv)
	b.spotRisk.UpdatePeak(pv)
	metrics.EquityGauge.Set(pv)

	for _, symbol := range b.cfg.Trading.Symbols {
		b.evaluateSymbol(ctx, symbol, pv)
	}

	positions, _ := b.spotAdapter.GetPositions(ctx)
	metrics.PositionsOpen.WithLabelValues("spot").Set(float64(len(positions)))

	pnl := pv - b.cfg.Trading.InitialCapital
	b.logger.Printf("[Iter %d] Portfolio: $%.2f (%+.2f / %+.2f%%) | Positions: %d",
		b.iteration, pv, pnl, pnl/b.cfg.Trading.InitialCapital*100, len(positions))
}

func (b *Bot) evaluateSymbol(ctx context.Context, symbol string, portfolioValue float64) {
	bars, err := b.fetcher.FetchLatest(ctx, symbol, b.cfg.Trading.Timeframe, spotCandleLookback)
	if err != nil {
		b.logger.Printf("[%s] candle fetch failed: %v", symbol, err)
		return
	}
	if len(bars) == 0 {
		b.logger.Printf("[%s] no candles", symbol)
		return
	}
	price := bars.Last().Close

	b.spotAdapter.CheckPendingStops(ctx, symbol, price)

	result, err := strategy.ApplySpot(b.cfg.Trading.Strategy, bars)
	if err != nil {
		b.logger.Printf("[%s] %s: %v", symbol, b.cfg.Trading.Strategy, err)
		return
	}
	if result.Warning != "" {
		b.logger.Printf("[%s] %s", symbol, result.Warning)
	}

	switch result.LastSignal() {
	case 1:
		b.enterSpot(ctx, symbol, price, portfolioValue)
	case -1:
		b.exitSpot(ctx, symbol)
	}
}

func (b *Bot) enterSpot(ctx context.Context, symbol string, price, portfolioValue float64) {
	positions, err := b.spotAdapter.GetPositions(ctx)
	if err != nil {
		b.logger.Printf("[%s] positions unavailable: %v", symbol, err)
		return
	}
	base := baseAsset(symbol)
	if positions[base] > 0 {
		b.logger.Printf("[%s] buy signal but already holding %.6f %s", symbol, positions[base], base)
		return
	}

	stop := b.spotRisk.StopLossPrice(price, "long")
	sizeUSD := b.spotRisk.CalculatePositionSize(portfolioValue, price, stop)

	positionsUSD := make(map[string]float64, len(positions))
	for asset, qty := range positions {
		positionsUSD[asset] = qty * price
	}
	verdict := b.spotRisk.CheckCanTrade(risk.TradeCheck{
		PortfolioValue:   portfolioValue,
		ProposedTradeUSD: sizeUSD,
		Symbol:           symbol,
		CurrentPositions: positionsUSD,
	})
	if !verdict.Allowed {
		metrics.RiskDenials.WithLabelValues("spot").Inc()
		b.sink.RiskAlert(verdict.Reason)
		return
	}

	qty := util.FloorToStep(sizeUSD/price, spotQtyStep)
	if qty <= 0 {
		return
	}
	metrics.OrdersSubmitted.WithLabelValues(b.cfg.Venues.Spot.Provider, "buy").Inc()
	order := b.spotAdapter.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   symbol,
		Side:     models.OrderBuy,
		Type:     models.Market,
		Quantity: qty,
	})
	if order.Status != models.OrderFilled {
		metrics.OrdersFailed.WithLabelValues(b.cfg.Venues.Spot.Provider).Inc()
		b.logger.Printf("[%s] buy order %s: %s", symbol, order.ID, order.Status)
		return
	}
	metrics.OrdersFilled.WithLabelValues(b.cfg.Venues.Spot.Provider, "buy").Inc()
	b.sink.TradeAlert(symbol, "buy", order.FilledQty, order.FilledPrice, nil)

	// Protective stop under the fill.
	b.spotAdapter.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:    symbol,
		Side:      models.OrderSell,
		Type:      models.StopLoss,
		Quantity:  order.FilledQty,
		StopPrice: b.spotRisk.StopLossPrice(order.FilledPrice, "long"),
	})

	b.entryPrices[symbol] = order.FilledPrice
}

func (b *Bot) exitSpot(ctx context.Context, symbol string) {
	positions, err := b.spotAdapter.GetPositions(ctx)
	if err != nil {
		b.logger.Printf("[%s] positions unavailable: %v", symbol, err)
		return
	}
	base := baseAsset(symbol)
	qty := positions[base]
	if qty <= 0 {
		return
	}

	// Drop the protective stop before selling the inventory it covers.
	for _, open := range b.spotAdapter.GetOpenOrders(symbol) {
		if open.Type == models.StopLoss || open.Type == models.StopLimit {
			b.spotAdapter.CancelOrder(open.ID)
		}
	}

	metrics.OrdersSubmitted.WithLabelValues(b.cfg.Venues.Spot.Provider, "sell").Inc()
	order := b.spotAdapter.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   symbol,
		Side:     models.OrderSell,
		Type:     models.Market,
		Quantity: qty,
	})
	if order.Status != models.OrderFilled {
		metrics.OrdersFailed.WithLabelValues(b.cfg.Venues.Spot.Provider).Inc()
		b.logger.Printf("[%s] sell order %s: %s", symbol, order.ID, order.Status)
		return
	}
	metrics.OrdersFilled.WithLabelValues(b.cfg.Venues.Spot.Provider, "sell").Inc()

	var pnl float64
	if entry, ok := b.entryPrices[symbol]; ok && entry > 0 {
		pnl = (order.FilledPrice - entry) * order.FilledQty
		b.spotRisk.RecordTradeResult(pnl)
		delete(b.entryPrices, symbol)
	}
	b.sink.TradeAlert(symbol, "sell", order.FilledQty, order.FilledPrice, &pnl)
}

func baseAsset(symbol string) string {
	base, _, _ := strings.Cut(symbol, "/")
	return base
}
