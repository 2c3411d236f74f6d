package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/threat_level_midnight/internal/broker"
	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

// fakeSpot serves a single scripted price.
type fakeSpot struct {
	price float64
}

var _ broker.SpotMarketData = (*fakeSpot)(nil)

func (f *fakeSpot) GetTicker(_ context.Context, _ string) (*broker.Ticker, error) {
	return &broker.Ticker{Bid: f.price * 0.9999, Ask: f.price * 1.0001, Last: f.price}, nil
}

func (f *fakeSpot) GetOHLCV(_ context.Context, _, _ string, _ int64, _ int) (models.Series, error) {
	return models.Series{{Close: f.price}}, nil
}

func TestMarketBuySellRoundTrip(t *testing.T) {
	ctx := context.Background()
	market := &fakeSpot{price: 50000}
	a := NewPaperAdapter(market, "USDT", 10000)

	buy := a.PlaceOrder(ctx, OrderRequest{
		Symbol: "BTC/USDT", Side: models.OrderBuy, Type: models.Market, Quantity: 0.01,
	})
	require.Equal(t, models.OrderFilled, buy.Status)
	assert.InDelta(t, 50025, buy.FilledPrice, 1e-9) // 5 bps of slippage

	// cost 500.25 plus 10 bps commission 0.50025
	bal, err := a.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 9499.24975, bal["USDT"], 1e-6)

	pos, err := a.GetPositions(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, pos["BTC"], 1e-12)

	market.price = 51000
	sell := a.PlaceOrder(ctx, OrderRequest{
		Symbol: "BTC/USDT", Side: models.OrderSell, Type: models.Market, Quantity: 0.01,
	})
	require.Equal(t, models.OrderFilled, sell.Status)
	assert.InDelta(t, 50974.5, sell.FilledPrice, 1e-9)

	// proceeds 509.745 minus commission 0.509745
	bal, _ = a.GetBalance(ctx)
	assert.InDelta(t, 10008.485005, bal["USDT"], 1e-6)

	pos, _ = a.GetPositions(ctx)
	assert.Empty(t, pos)
	assert.Len(t, a.GetTradeHistory(), 2)
}

func TestInsufficientFundsFailsOrder(t *testing.T) {
	ctx := context.Background()
	a := NewPaperAdapter(&fakeSpot{price: 50000}, "USDT", 100)

	order := a.PlaceOrder(ctx, OrderRequest{
		Symbol: "BTC/USDT", Side: models.OrderBuy, Type: models.Market, Quantity: 1,
	})
	assert.Equal(t, models.OrderFailed, order.Status)

	bal, _ := a.GetBalance(ctx)
	assert.InDelta(t, 100, bal["USDT"], 1e-12)
}

func TestSellWithoutPositionFails(t *testing.T) {
	ctx := context.Background()
	a := NewPaperAdapter(&fakeSpot{price: 50000}, "USDT", 10000)

	order := a.PlaceOrder(ctx, OrderRequest{
		Symbol: "BTC/USDT", Side: models.OrderSell, Type: models.Market, Quantity: 0.5,
	})
	assert.Equal(t, models.OrderFailed, order.Status)
}

func TestLimitOrderRestsUntilFavorable(t *testing.T) {
	ctx := context.Background()
	market := &fakeSpot{price: 50000}
	a := NewPaperAdapter(market, "USDT", 10000)

	// Buy limit below the market rests open.
	order := a.PlaceOrder(ctx, OrderRequest{
		Symbol: "BTC/USDT", Side: models.OrderBuy, Type: models.Limit, Quantity: 0.01, Price: 49000,
	})
	require.Equal(t, models.OrderOpen, order.Status)
	assert.Len(t, a.GetOpenOrders("BTC/USDT"), 1)

	// Buy limit at or above the market fills at the better price.
	order = a.PlaceOrder(ctx, OrderRequest{
		Symbol: "BTC/USDT", Side: models.OrderBuy, Type: models.Limit, Quantity: 0.01, Price: 50500,
	})
	require.Equal(t, models.OrderFilled, order.Status)
	assert.InDelta(t, 50000, order.FilledPrice, 1e-9)
}

func TestStopLossTriggersAtStopPrice(t *testing.T) {
	ctx := context.Background()
	market := &fakeSpot{price: 50000}
	a := NewPaperAdapter(market, "USDT", 10000)

	buy := a.PlaceOrder(ctx, OrderRequest{
		Symbol: "BTC/USDT", Side: models.OrderBuy, Type: models.Market, Quantity: 0.01,
	})
	require.Equal(t, models.OrderFilled, buy.Status)

	stop := a.PlaceOrder(ctx, OrderRequest{
		Symbol: "BTC/USDT", Side: models.OrderSell, Type: models.StopLoss, Quantity: 0.01, StopPrice: 48000,
	})
	require.Equal(t, models.OrderOpen, stop.Status)

	// Price above the trigger leaves the stop resting.
	a.CheckPendingStops(ctx, "BTC/USDT", 49000)
	assert.Len(t, a.GetOpenOrders("BTC/USDT"), 1)

	// Touching the trigger fires the stop at the trigger price.
	a.CheckPendingStops(ctx, "BTC/USDT", 47900)
	assert.Empty(t, a.GetOpenOrders("BTC/USDT"))

	pos, _ := a.GetPositions(ctx)
	assert.Empty(t, pos)

	trades := a.GetTradeHistory()
	require.Len(t, trades, 2)
	assert.InDelta(t, 47900*(1-DefaultSlippage), trades[1].FilledPrice, 1e-9)
}

func TestStopWithoutTriggerPriceFails(t *testing.T) {
	ctx := context.Background()
	a := NewPaperAdapter(&fakeSpot{price: 50000}, "USDT", 10000)

	order := a.PlaceOrder(ctx, OrderRequest{
		Symbol: "BTC/USDT", Side: models.OrderSell, Type: models.StopLoss, Quantity: 0.01,
	})
	assert.Equal(t, models.OrderFailed, order.Status)
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()
	a := NewPaperAdapter(&fakeSpot{price: 50000}, "USDT", 10000)

	order := a.PlaceOrder(ctx, OrderRequest{
		Symbol: "BTC/USDT", Side: models.OrderBuy, Type: models.Limit, Quantity: 0.01, Price: 40000,
	})
	require.Equal(t, models.OrderOpen, order.Status)

	assert.True(t, a.CancelOrder(order.ID))
	assert.Empty(t, a.GetOpenOrders(""))
	assert.False(t, a.CancelOrder(order.ID), "already cancelled")
	assert.False(t, a.CancelOrder("order_999"))
}

func TestGetPortfolioValueMarksPositions(t *testing.T) {
	ctx := context.Background()
	market := &fakeSpot{price: 50000}
	a := NewPaperAdapter(market, "USDT", 10000)

	a.PlaceOrder(ctx, OrderRequest{
		Symbol: "BTC/USDT", Side: models.OrderBuy, Type: models.Market, Quantity: 0.01,
	})

	market.price = 52000
	value, err := a.GetPortfolioValue(ctx, "USDT")
	require.NoError(t, err)
	// cash 9499.24975 + 0.01 * 52000
	assert.InDelta(t, 10019.24975, value, 1e-6)
}

func TestSetFillParams(t *testing.T) {
	ctx := context.Background()
	a := NewPaperAdapter(&fakeSpot{price: 100}, "USDT", 1000)
	a.SetFillParams(0, 0)

	order := a.PlaceOrder(ctx, OrderRequest{
		Symbol: "ETH/USDT", Side: models.OrderBuy, Type: models.Market, Quantity: 1,
	})
	require.Equal(t, models.OrderFilled, order.Status)
	assert.InDelta(t, 100, order.FilledPrice, 1e-12)

	bal, _ := a.GetBalance(ctx)
	assert.InDelta(t, 900, bal["USDT"], 1e-12)
}
