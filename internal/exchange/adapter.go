// Package exchange implements the unified spot/perp adapter: one contract
// for order placement, prices, balances, and positions, with a paper
// implementation and a live Kraken implementation behind it.
package exchange

import (
	"context"
	"strings"
	"time"

	"github.com/eddiefleurent/threat_level_midnight/internal/broker"
	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

// OrderRequest is the input to PlaceOrder. Price is the limit price,
// StopPrice the stop trigger; each is required only for the order types
// that use it.
type OrderRequest struct {
	Symbol    string
	Side      models.OrderSide
	Type      models.OrderType
	Quantity  float64
	Price     float64
	StopPrice float64
}

// PriceUpdate is one tick delivered by StreamPrices.
type PriceUpdate struct {
	Symbol string
	Price  float64
	Time   time.Time
}

// Adapter is the venue contract shared by paper and live implementations.
// PlaceOrder always returns an order with a final status; a venue fault
// surfaces as status failed, never as a half-applied fill.
type Adapter interface {
	GetTicker(ctx context.Context, symbol string) (*broker.Ticker, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetBalance(ctx context.Context) (map[string]float64, error)
	GetPositions(ctx context.Context) (map[string]float64, error)
	PlaceOrder(ctx context.Context, req OrderRequest) *models.Order
	CancelOrder(id string) bool
	GetOpenOrders(symbol string) []models.Order
	GetTradeHistory() []models.Order
	GetPortfolioValue(ctx context.Context, quote string) (float64, error)
	CheckPendingStops(ctx context.Context, symbol string, currentPrice float64)
	StreamPrices(ctx context.Context, symbol string, interval time.Duration, maxUpdates int, cb func(PriceUpdate)) error
}

func splitSymbol(symbol string) (base, quote string) {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok {
		return symbol, "USDT"
	}
	return base, quote
}
