package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/threat_level_midnight/internal/broker"
	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

const krakenPrivateBase = "https://api.kraken.com"

// KrakenLiveAdapter places real orders on Kraken spot. It is deliberately
// narrow: market orders only, with limit/stop handling left to the venue.
// Construction requires credentials; the bot refuses to build one without
// the explicit live flag.
type KrakenLiveAdapter struct {
	market    broker.SpotMarketData
	apiKey    string
	apiSecret string
	client    *http.Client

	mu       sync.Mutex
	trades   []models.Order
	orderSeq int
}

var _ Adapter = (*KrakenLiveAdapter)(nil)

// NewKrakenLiveAdapter builds a live adapter. Both credentials are
// mandatory.
func NewKrakenLiveAdapter(market broker.SpotMarketData, apiKey, apiSecret string) (*KrakenLiveAdapter, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("live mode requires both API key and secret")
	}
	return &KrakenLiveAdapter{
		market:    market,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (a *KrakenLiveAdapter) GetTicker(ctx context.Context, symbol string) (*broker.Ticker, error) {
	return a.market.GetTicker(ctx, symbol)
}

func (a *KrakenLiveAdapter) GetPrice(ctx context.Context, symbol string) (float64, error) {
	t, err := a.market.GetTicker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return t.Last, nil
}

// GetBalance fetches free balances from the venue.
func (a *KrakenLiveAdapter) GetBalance(ctx context.Context) (map[string]float64, error) {
	var result map[string]string
	if err := a.privateCall(ctx, "/0/private/Balance", url.Values{}, &result); err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for asset, qty := range result {
		f, _ := strconv.ParseFloat(qty, 64)
		if f > 0 {
			out[normalizeKrakenAsset(asset)] = f
		}
	}
	return out, nil
}

// GetPositions reports spot holdings: every non-quote balance.
func (a *KrakenLiveAdapter) GetPositions(ctx context.Context) (map[string]float64, error) {
	balances, err := a.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for asset, qty := range balances {
		if asset == "USD" || asset == "USDT" || asset == "USDC" {
			continue
		}
		out[asset] = qty
	}
	return out, nil
}

// PlaceOrder submits a market order to the venue. Non-market types are
// rejected as failed; the strategies only ever send markets in live mode.
func (a *KrakenLiveAdapter) PlaceOrder(ctx context.Context, req OrderRequest) *models.Order {
	now := time.Now().UTC()
	a.mu.Lock()
	a.orderSeq++
	order := &models.Order{
		ID:        fmt.Sprintf("live_%d", a.orderSeq),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Status:    models.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.mu.Unlock()

	if req.Type != models.Market {
		_ = order.Transition(models.OrderFailed, time.Now().UTC())
		return order
	}

	params := url.Values{}
	params.Set("pair", strings.ReplaceAll(req.Symbol, "/", ""))
	params.Set("type", string(req.Side))
	params.Set("ordertype", "market")
	params.Set("volume", strconv.FormatFloat(req.Quantity, 'f', -1, 64))

	var result struct {
		Txid []string `json:"txid"`
	}
	if err := a.privateCall(ctx, "/0/private/AddOrder", params, &result); err != nil {
		_ = order.Transition(models.OrderFailed, time.Now().UTC())
		return order
	}

	price, err := a.GetPrice(ctx, req.Symbol)
	if err != nil {
		price = 0
	}
	order.FilledPrice = price
	order.FilledQty = req.Quantity
	if len(result.Txid) > 0 {
		order.ID = result.Txid[0]
	}
	_ = order.Transition(models.OrderFilled, time.Now().UTC())

	a.mu.Lock()
	a.trades = append(a.trades, *order)
	a.mu.Unlock()
	return order
}

// CancelOrder is a no-op for the live adapter; market orders never rest.
func (a *KrakenLiveAdapter) CancelOrder(string) bool { return false }

// GetOpenOrders returns nothing; market orders never rest.
func (a *KrakenLiveAdapter) GetOpenOrders(string) []models.Order { return nil }

func (a *KrakenLiveAdapter) GetTradeHistory() []models.Order {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Order(nil), a.trades...)
}

func (a *KrakenLiveAdapter) GetPortfolioValue(ctx context.Context, quote string) (float64, error) {
	balances, err := a.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	total := balances[quote]
	for asset, qty := range balances {
		if asset == quote {
			continue
		}
		price, err := a.GetPrice(ctx, asset+"/"+quote)
		if err != nil {
			continue
		}
		total += qty * price
	}
	return total, nil
}

// CheckPendingStops is a no-op: the venue manages its own stop orders.
func (a *KrakenLiveAdapter) CheckPendingStops(context.Context, string, float64) {}

func (a *KrakenLiveAdapter) StreamPrices(ctx context.Context, symbol string, interval time.Duration, maxUpdates int, cb func(PriceUpdate)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	count := 0
	for {
		price, err := a.GetPrice(ctx, symbol)
		if err == nil {
			cb(PriceUpdate{Symbol: symbol, Price: price, Time: time.Now().UTC()})
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

// privateCall signs and posts a Kraken private API request.
func (a *KrakenLiveAdapter) privateCall(ctx context.Context, path string, params url.Values, out any) error {
	nonce := strconv.FormatInt(time.Now().UnixNano()/int64(time.Millisecond), 10)
	params.Set("nonce", nonce)
	body := params.Encode()

	sig, err := a.sign(path, nonce, body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, krakenPrivateBase+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", a.apiKey)
	req.Header.Set("API-Sign", sig)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("kraken %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var env struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decoding kraken %s response: %w", path, err)
	}
	if len(env.Error) > 0 {
		return fmt.Errorf("kraken %s: %s", path, strings.Join(env.Error, "; "))
	}
	return json.Unmarshal(env.Result, out)
}

// sign computes the API-Sign header: HMAC-SHA512 over path plus
// SHA256(nonce || body), keyed with the base64-decoded secret.
func (a *KrakenLiveAdapter) sign(path, nonce, body string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(a.apiSecret)
	if err != nil {
		return "", fmt.Errorf("decoding API secret: %w", err)
	}
	inner := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// normalizeKrakenAsset maps Kraken's legacy asset codes onto the common
// ones (XXBT -> BTC, ZUSD -> USD).
func normalizeKrakenAsset(asset string) string {
	switch asset {
	case "XXBT", "XBT":
		return "BTC"
	case "XETH":
		return "ETH"
	case "ZUSD":
		return "USD"
	}
	return asset
}
