package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(Config{
		APIKey:            "test-key",
		APISecret:         "test-secret",
		BaseURL:           server.URL,
		RequestsPerSecond: 100,
	}, zerolog.New(nil).Level(zerolog.Disabled))
}

func TestLastPrice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Empty(t, r.Header.Get("X-MBX-APIKEY"))
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"60123.45000000"}`))
	})

	price, err := client.LastPrice(context.Background(), "btcusdt")
	require.NoError(t, err)
	assert.InDelta(t, 60123.45, price, 1e-9)
}

func TestGetSymbolFilters_ParsesAndCaches(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/v3/exchangeInfo", r.URL.Path)
		_, _ = w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","filters":[
			{"filterType":"PRICE_FILTER","minPrice":"0.01","maxPrice":"1000000.00","tickSize":"0.01"},
			{"filterType":"LOT_SIZE","minQty":"0.00001","maxQty":"9000.0","stepSize":"0.00001"},
			{"filterType":"NOTIONAL","minNotional":"5.00000000","applyMinToMarket":true}
		]}]}`))
	})

	filters, err := client.GetSymbolFilters(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", filters.Symbol)
	assert.True(t, filters.TickSize.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, filters.LotSize.Equal(decimal.RequireFromString("0.00001")))
	assert.True(t, filters.MinNotional.Equal(decimal.NewFromInt(5)))

	_, err = client.GetSymbolFilters(context.Background(), "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	client.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = client.GetSymbolFilters(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetBalances_SignedAndSkipsEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))

		raw := r.URL.RawQuery
		idx := strings.LastIndex(raw, "&signature=")
		if assert.Positive(t, idx) {
			assert.Equal(t, sign(raw[:idx], "test-secret"), raw[idx+len("&signature="):])
		}
		assert.NotEmpty(t, r.URL.Query().Get("timestamp"))
		assert.Equal(t, "5000", r.URL.Query().Get("recvWindow"))

		_, _ = w.Write([]byte(`{"balances":[
			{"asset":"BTC","free":"0.5","locked":"0.25"},
			{"asset":"ETH","free":"0.00000000","locked":"0.00000000"},
			{"asset":"USDT","free":"1000.10","locked":"0"}
		]}`))
	})

	balances, err := client.GetBalances(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "BTC", balances[0].Asset)
	assert.InDelta(t, 0.75, balances[0].Quantity, 1e-12)
	assert.Equal(t, "USDT", balances[1].Asset)
}

func TestPlaceOrder_SendsLimitOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "BUY", q.Get("side"))
		assert.Equal(t, "LIMIT", q.Get("type"))
		assert.Equal(t, "GTC", q.Get("timeInForce"))
		assert.Equal(t, "0.00079", q.Get("quantity"))
		assert.Equal(t, "60000.12", q.Get("price"))
		assert.Equal(t, "0123456789abcdef0123", q.Get("newClientOrderId"))
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":28,"clientOrderId":"0123456789abcdef0123"}`))
	})

	id, err := client.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          domain.SideBuy,
		ClientOrderID: "0123456789abcdef0123",
		LimitPrice:    decimal.RequireFromString("60000.12"),
		Quantity:      decimal.RequireFromString("0.00079"),
	})
	require.NoError(t, err)
	assert.Equal(t, "28", id)
}

func TestPlaceOrder_RejectsHold(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := client.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "BTCUSDT", Side: domain.SideHold})
	require.Error(t, err)
}

func TestCancelOrder_UsesClientOrderID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "old-order-id", r.URL.Query().Get("origClientOrderId"))
		_, _ = w.Write([]byte(`{"status":"CANCELED"}`))
	})

	require.NoError(t, client.CancelOrder(context.Background(), "ETHUSDT", "old-order-id"))
}

func TestGetOrderStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"orderId":77,"clientOrderId":"abc","status":"PARTIALLY_FILLED","executedQty":"0.40000000"}`))
	})

	report, err := client.GetOrderStatus(context.Background(), "BTCUSDT", "abc")
	require.NoError(t, err)
	assert.Equal(t, "77", report.ExchangeOrderID)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, report.Status)
	assert.True(t, report.FilledQuantity.Equal(decimal.RequireFromString("0.4")))
}

func TestSignedRequestWithoutCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL}, zerolog.New(nil).Level(zerolog.Disabled))
	_, err := client.GetBalances(context.Background(), "acct-1")
	require.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"too many requests", http.StatusTooManyRequests, `{"code":-1003,"msg":"Too much request weight used"}`, domain.ErrRateLimited},
		{"ip banned", http.StatusTeapot, `{"code":-1003,"msg":"Way too much request weight used"}`, domain.ErrRateLimited},
		{"duplicate client id", http.StatusBadRequest, `{"code":-2010,"msg":"Duplicate order sent."}`, domain.ErrDuplicateOrder},
		{"insufficient balance", http.StatusBadRequest, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`, domain.ErrExchangeRejected},
		{"filter failure", http.StatusBadRequest, `{"code":-1013,"msg":"Filter failure: NOTIONAL"}`, domain.ErrExchangeRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.PlaceOrder(context.Background(), domain.OrderRequest{
				Symbol:        "BTCUSDT",
				Side:          domain.SideSell,
				ClientOrderID: "cid",
				LimitPrice:    decimal.NewFromInt(1),
				Quantity:      decimal.NewFromInt(1),
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestServerErrorIsNotCoded(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.LastPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.Empty(t, domain.ErrorCode(err))
}

func TestMapStatus(t *testing.T) {
	tests := map[string]domain.OrderStatus{
		"NEW":              domain.OrderStatusNew,
		"PARTIALLY_FILLED": domain.OrderStatusPartiallyFilled,
		"FILLED":           domain.OrderStatusFilled,
		"CANCELED":         domain.OrderStatusCanceled,
		"REJECTED":         domain.OrderStatusRejected,
		"EXPIRED":          domain.OrderStatusExpired,
		"EXPIRED_IN_MATCH": domain.OrderStatusExpired,
	}
	for in, want := range tests {
		assert.Equal(t, want, mapStatus(in), in)
	}
}
