// Package binance implements the exchange adapter for Binance spot markets.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Binance error codes with a dedicated meaning
const (
	codeTooManyRequests  = -1003
	codeNewOrderRejected = -2010
)

// Config holds Binance credentials and transport settings
type Config struct {
	APIKey            string
	APISecret         string
	BaseURL           string
	RecvWindow        int64 // ms
	RequestsPerSecond float64
	FiltersTTL        time.Duration
	Timeout           time.Duration
}

// Client is a Binance spot REST client. It implements domain.ExchangeAdapter,
// domain.PriceFetcher and domain.BalanceProvider.
type Client struct {
	http    *resty.Client
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time
	log     zerolog.Logger

	filtersMu sync.RWMutex
	filters   map[string]cachedFilters
}

type cachedFilters struct {
	filters   domain.SymbolFilters
	fetchedAt time.Time
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// New creates a Binance client
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.binance.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.FiltersTTL <= 0 {
		cfg.FiltersTTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:    httpClient,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		now:     time.Now,
		log:     log.With().Str("client", "binance").Logger(),
		filters: make(map[string]cachedFilters),
	}
}

// LastPrice returns the last traded price of a symbol
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}

	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	if err := c.do(ctx, http.MethodGet, "/api/v3/ticker/price", params, false, &resp); err != nil {
		return 0, err
	}

	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: invalid price %q for %s: %w", resp.Price, symbol, err)
	}
	return price, nil
}

// GetSymbolFilters returns tick size, lot size and minimum notional of a symbol.
// Filters change rarely and are cached for FiltersTTL.
func (c *Client) GetSymbolFilters(ctx context.Context, symbol string) (domain.SymbolFilters, error) {
	symbol = strings.ToUpper(symbol)

	c.filtersMu.RLock()
	cached, ok := c.filters[symbol]
	c.filtersMu.RUnlock()
	if ok && c.now().Sub(cached.fetchedAt) < c.cfg.FiltersTTL {
		return cached.filters, nil
	}

	var resp struct {
		Symbols []struct {
			Symbol  string                   `json:"symbol"`
			Status  string                   `json:"status"`
			Filters []map[string]interface{} `json:"filters"`
		} `json:"symbols"`
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	if err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false, &resp); err != nil {
		return domain.SymbolFilters{}, err
	}
	if len(resp.Symbols) == 0 {
		return domain.SymbolFilters{}, fmt.Errorf("binance: symbol %s not listed", symbol)
	}

	filters := domain.SymbolFilters{Symbol: symbol}
	for _, f := range resp.Symbols[0].Filters {
		switch f["filterType"] {
		case "PRICE_FILTER":
			filters.TickSize = decimalField(f, "tickSize")
		case "LOT_SIZE":
			filters.LotSize = decimalField(f, "stepSize")
		case "MIN_NOTIONAL", "NOTIONAL":
			filters.MinNotional = decimalField(f, "minNotional")
		}
	}

	c.filtersMu.Lock()
	c.filters[symbol] = cachedFilters{filters: filters, fetchedAt: c.now()}
	c.filtersMu.Unlock()

	return filters, nil
}

// GetBalances returns free plus locked quantity per asset. The API key identifies
// the account, accountID is only used for logging.
func (c *Client) GetBalances(ctx context.Context, accountID string) ([]domain.Balance, error) {
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}

	if err := c.do(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true, &resp); err != nil {
		return nil, err
	}

	balances := make([]domain.Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		total := free.Add(locked)
		if total.IsZero() {
			continue
		}
		balances = append(balances, domain.Balance{Asset: b.Asset, Quantity: total.InexactFloat64()})
	}

	c.log.Debug().Str("account_id", accountID).Int("assets", len(balances)).Msg("Fetched balances")
	return balances, nil
}

// PlaceOrder submits a GTC limit order and returns the exchange order id
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if !req.Side.IsOrder() {
		return "", fmt.Errorf("binance: invalid order side %q", req.Side)
	}

	params := url.Values{}
	params.Set("symbol", strings.ToUpper(req.Symbol))
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", req.Quantity.String())
	params.Set("price", req.LimitPrice.String())
	params.Set("newClientOrderId", req.ClientOrderID)
	params.Set("newOrderRespType", "ACK")

	var resp struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true, &resp); err != nil {
		return "", err
	}

	c.log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("client_order_id", req.ClientOrderID).
		Int64("order_id", resp.OrderID).
		Msg("Order placed")

	return strconv.FormatInt(resp.OrderID, 10), nil
}

// CancelOrder cancels an open order by its client order id
func (c *Client) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("origClientOrderId", clientOrderID)

	if err := c.do(ctx, http.MethodDelete, "/api/v3/order", params, true, nil); err != nil {
		return err
	}

	c.log.Info().Str("symbol", symbol).Str("client_order_id", clientOrderID).Msg("Order canceled")
	return nil
}

// GetOrderStatus queries an order by its client order id
func (c *Client) GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*domain.OrderStatusReport, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("origClientOrderId", clientOrderID)

	var resp struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
		ExecutedQty   string `json:"executedQty"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/order", params, true, &resp); err != nil {
		return nil, err
	}

	filled, err := decimal.NewFromString(resp.ExecutedQty)
	if err != nil {
		filled = decimal.Zero
	}

	return &domain.OrderStatusReport{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID:   resp.ClientOrderID,
		Status:          mapStatus(resp.Status),
		FilledQuantity:  filled,
	}, nil
}

// do executes a request, signing it when required, and decodes the JSON body into out
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("binance: rate limiter: %w", err)
	}

	req := c.http.R().SetContext(ctx)

	query := params.Encode()
	if signed {
		if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
			return fmt.Errorf("binance: API key/secret required")
		}
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
		query = params.Encode()
		// The signature covers the exact query string and must come last
		query += "&signature=" + sign(query, c.cfg.APISecret)
		req.SetHeader("X-MBX-APIKEY", c.cfg.APIKey)
	}

	endpoint := path
	if query != "" {
		endpoint += "?" + query
	}

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return fmt.Errorf("binance %s %s: %w", method, path, err)
	}

	if resp.IsError() {
		return classifyError(method, path, resp.StatusCode(), resp.Body())
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("binance %s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

// classifyError maps HTTP status and Binance error codes onto domain errors
func classifyError(method, path string, status int, body []byte) error {
	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)

	cause := fmt.Errorf("binance %s %s status %d: %s", method, path, status, strings.TrimSpace(string(body)))

	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot || apiErr.Code == codeTooManyRequests:
		return domain.WrapError(domain.CodeRateLimited, cause, "binance request weight exceeded")
	case apiErr.Code == codeNewOrderRejected && strings.Contains(strings.ToLower(apiErr.Msg), "duplicate"):
		return domain.WrapError(domain.CodeDuplicateOrder, cause, "client order id already used")
	case status >= 400 && status < 500 && apiErr.Code != 0:
		return domain.WrapError(domain.CodeExchangeRejected, cause, "%s", apiErr.Msg)
	default:
		return cause
	}
}

func mapStatus(s string) domain.OrderStatus {
	switch s {
	case "NEW", "PENDING_NEW":
		return domain.OrderStatusNew
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartiallyFilled
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return domain.OrderStatusCanceled
	case "REJECTED":
		return domain.OrderStatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return domain.OrderStatusExpired
	default:
		return domain.OrderStatusNew
	}
}

func decimalField(f map[string]interface{}, key string) decimal.Decimal {
	s, ok := f[key].(string)
	if !ok {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func sign(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
