package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/threat_level_midnight/internal/broker"
	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

// Fill parameters applied by the paper engine. Venues disagree on these in
// live trading, so they are per-adapter fields with the stock defaults.
const (
	DefaultSlippage   = 0.0005 // 5 bps
	DefaultCommission = 0.001  // 10 bps
)

// PaperAdapter simulates order execution against live market data. All
// state (cash, positions, orders, trades) lives in-process behind one
// mutex; market-data calls go to the wrapped client.
type PaperAdapter struct {
	market broker.SpotMarketData

	mu         sync.Mutex
	balances   map[string]float64
	positions  map[string]float64
	orders     []*models.Order
	trades     []models.Order
	orderSeq   int
	slippage   float64
	commission float64
	now        func() time.Time
}

var _ Adapter = (*PaperAdapter)(nil)

// NewPaperAdapter seeds the paper book with initialBalance in quote
// currency.
func NewPaperAdapter(market broker.SpotMarketData, quote string, initialBalance float64) *PaperAdapter {
	return &PaperAdapter{
		market:     market,
		balances:   map[string]float64{quote: initialBalance},
		positions:  map[string]float64{},
		slippage:   DefaultSlippage,
		commission: DefaultCommission,
		now:        time.Now,
	}
}

// SetFillParams overrides the per-venue slippage and commission rates.
func (a *PaperAdapter) SetFillParams(slippage, commission float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slippage = slippage
	a.commission = commission
}

func (a *PaperAdapter) GetTicker(ctx context.Context, symbol string) (*broker.Ticker, error) {
	return a.market.GetTicker(ctx, symbol)
}

func (a *PaperAdapter) GetPrice(ctx context.Context, symbol string) (float64, error) {
	t, err := a.market.GetTicker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return t.Last, nil
}

func (a *PaperAdapter) GetBalance(_ context.Context) (map[string]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]float64, len(a.balances))
	for k, v := range a.balances {
		out[k] = v
	}
	return out, nil
}

func (a *PaperAdapter) GetPositions(_ context.Context) (map[string]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := map[string]float64{}
	for k, v := range a.positions {
		if v > 0 {
			out[k] = v
		}
	}
	return out, nil
}

// PlaceOrder simulates execution at the current market price. Market
// orders fill immediately with slippage; limit orders fill only when the
// price is already favorable, otherwise they rest open; stop orders rest
// open until CheckPendingStops triggers them. Any failure leaves balances
// untouched.
func (a *PaperAdapter) PlaceOrder(ctx context.Context, req OrderRequest) *models.Order {
	now := a.now().UTC()
	a.mu.Lock()
	a.orderSeq++
	order := &models.Order{
		ID:        fmt.Sprintf("order_%d", a.orderSeq),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Price:     req.Price,
		StopPrice: req.StopPrice,
		Status:    models.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.mu.Unlock()

	currentPrice, err := a.GetPrice(ctx, req.Symbol)
	if err != nil || currentPrice <= 0 {
		_ = order.Transition(models.OrderFailed, a.now().UTC())
		return order
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.executeLocked(order, currentPrice)
	return order
}

// executeLocked runs the fill logic at the given market price. The caller
// holds the lock.
func (a *PaperAdapter) executeLocked(order *models.Order, currentPrice float64) {
	now := a.now().UTC()
	var fillPrice float64

	switch order.Type {
	case models.Market:
		if order.Side == models.OrderBuy {
			fillPrice = currentPrice * (1 + a.slippage)
		} else {
			fillPrice = currentPrice * (1 - a.slippage)
		}
	case models.Limit:
		if order.Price <= 0 {
			_ = order.Transition(models.OrderFailed, now)
			return
		}
		switch {
		case order.Side == models.OrderBuy && order.Price >= currentPrice:
			fillPrice = min(order.Price, currentPrice)
		case order.Side == models.OrderSell && order.Price <= currentPrice:
			fillPrice = max(order.Price, currentPrice)
		default:
			// Not reached yet; rest on the book.
			_ = order.Transition(models.OrderOpen, now)
			a.orders = append(a.orders, order)
			return
		}
	case models.StopLoss, models.StopLimit:
		if order.StopPrice <= 0 {
			_ = order.Transition(models.OrderFailed, now)
			return
		}
		_ = order.Transition(models.OrderOpen, now)
		a.orders = append(a.orders, order)
		return
	default:
		fillPrice = currentPrice
	}

	base, quote := splitSymbol(order.Symbol)

	if order.Side == models.OrderBuy {
		cost := order.Quantity * fillPrice
		commission := cost * a.commission
		if a.balances[quote] < cost+commission {
			_ = order.Transition(models.OrderFailed, now)
			return
		}
		a.balances[quote] -= cost + commission
		a.positions[base] += order.Quantity
	} else {
		if a.positions[base] < order.Quantity {
			_ = order.Transition(models.OrderFailed, now)
			return
		}
		proceeds := order.Quantity * fillPrice
		commission := proceeds * a.commission
		a.positions[base] -= order.Quantity
		a.balances[quote] += proceeds - commission
	}

	order.FilledPrice = fillPrice
	order.FilledQty = order.Quantity
	order.Commission = a.commission * order.Quantity * fillPrice
	_ = order.Transition(models.OrderFilled, now)
	a.trades = append(a.trades, *order)
}

func (a *PaperAdapter) CancelOrder(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, o := range a.orders {
		if o.ID == id && o.Status == models.OrderOpen {
			_ = o.Transition(models.OrderCancelled, a.now().UTC())
			return true
		}
	}
	return false
}

func (a *PaperAdapter) GetOpenOrders(symbol string) []models.Order {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.Order
	for _, o := range a.orders {
		if o.Status != models.OrderOpen {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, *o)
	}
	return out
}

func (a *PaperAdapter) GetTradeHistory() []models.Order {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Order(nil), a.trades...)
}

// GetPortfolioValue sums quote cash plus every position marked at its last
// price. Unpriceable assets are skipped rather than failing the whole
// valuation.
func (a *PaperAdapter) GetPortfolioValue(ctx context.Context, quote string) (float64, error) {
	a.mu.Lock()
	total := a.balances[quote]
	held := map[string]float64{}
	for asset, qty := range a.positions {
		if qty > 0 {
			held[asset] = qty
		}
	}
	a.mu.Unlock()

	for asset, qty := range held {
		price, err := a.GetPrice(ctx, asset+"/"+quote)
		if err != nil {
			continue
		}
		total += qty * price
	}
	return total, nil
}

// CheckPendingStops converts any stop order whose trigger has been touched
// into a market order and executes it.
func (a *PaperAdapter) CheckPendingStops(_ context.Context, symbol string, currentPrice float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, order := range a.orders {
		if order.Status != models.OrderOpen || order.Symbol != symbol {
			continue
		}
		if order.Type != models.StopLoss && order.Type != models.StopLimit {
			continue
		}
		triggered := (order.Side == models.OrderSell && currentPrice <= order.StopPrice) ||
			(order.Side == models.OrderBuy && currentPrice >= order.StopPrice)
		if triggered {
			order.Type = models.Market
			// Re-run through the fill path at the trigger price.
			order.Status = models.OrderPending
			a.executeLocked(order, currentPrice)
		}
	}
}

// StreamPrices polls the ticker at the given interval and invokes cb on
// each update. maxUpdates of zero streams until the context is cancelled.
func (a *PaperAdapter) StreamPrices(ctx context.Context, symbol string, interval time.Duration, maxUpdates int, cb func(PriceUpdate)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	count := 0
	for {
		price, err := a.GetPrice(ctx, symbol)
		if err == nil {
			cb(PriceUpdate{Symbol: symbol, Price: price, Time: a.now().UTC()})
			count++
			if maxUpdates > 0 && count >= maxUpdates {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
