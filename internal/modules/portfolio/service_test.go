package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStrategyStore is a mock strategy store for testing
type MockStrategyStore struct {
	mock.Mock
}

func (m *MockStrategyStore) GetActiveStrategy(ctx context.Context, accountID string) (*domain.StrategyConfig, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StrategyConfig), args.Error(1)
}

// MockBalanceProvider is a mock balance provider for testing
type MockBalanceProvider struct {
	mock.Mock
}

func (m *MockBalanceProvider) GetBalances(ctx context.Context, accountID string) ([]domain.Balance, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Balance), args.Error(1)
}

// MockPrices is a mock price snapshotter for testing
type MockPrices struct {
	mock.Mock
}

func (m *MockPrices) Snapshot(ctx context.Context, symbols []string) (domain.PriceSnapshot, error) {
	args := m.Called(ctx, symbols)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.PriceSnapshot), args.Error(1)
}

func testStrategy(t *testing.T) *domain.StrategyConfig {
	t.Helper()
	cfg, err := domain.NewStrategyConfig(domain.StrategyConfig{
		AccountID:  "acct-1",
		QuoteAsset: "USDT",
		Allocations: []domain.Allocation{
			{Asset: "BTC", TargetPercentage: 50},
			{Asset: "ETH", TargetPercentage: 30},
			{Asset: "USDT", TargetPercentage: 20},
		},
		OrderSizePct: 1,
		IsActive:     true,
	})
	require.NoError(t, err)
	return cfg
}

func snapshot(kv map[string]float64) domain.PriceSnapshot {
	snap := domain.PriceSnapshot{}
	for sym, p := range kv {
		snap[sym] = domain.MarketPrice{Symbol: sym, Price: p, ObservedAt: time.Now()}
	}
	return snap
}

func newService(strategies *MockStrategyStore, balances *MockBalanceProvider, prices *MockPrices) *PortfolioService {
	return NewPortfolioService(strategies, balances, prices, zerolog.New(nil).Level(zerolog.Disabled))
}

func TestGetSummary(t *testing.T) {
	strategies := new(MockStrategyStore)
	balances := new(MockBalanceProvider)
	prices := new(MockPrices)

	strategy := testStrategy(t)
	strategies.On("GetActiveStrategy", mock.Anything, "acct-1").Return(strategy, nil)
	balances.On("GetBalances", mock.Anything, "acct-1").Return([]domain.Balance{
		{Asset: "BTC", Quantity: 0.1},
		{Asset: "ETH", Quantity: 1},
		{Asset: "USDT", Quantity: 2000},
		{Asset: "BNB", Quantity: 3},
	}, nil)
	snap := snapshot(map[string]float64{"BTCUSDT": 60000, "ETHUSDT": 2000})
	prices.On("Snapshot", mock.Anything, []string{"BTCUSDT", "ETHUSDT"}).Return(snap, nil)

	summary, err := newService(strategies, balances, prices).GetSummary(context.Background(), "acct-1")
	require.NoError(t, err)

	// 6000 + 2000 + 2000, BNB is not allocated
	assert.InDelta(t, 10000, summary.NAV, 1e-9)
	require.Len(t, summary.Positions, 3)

	btc := summary.Positions[0]
	assert.Equal(t, "BTCUSDT", btc.Symbol)
	assert.InDelta(t, 60, btc.CurrentPct, 1e-9)
	assert.InDelta(t, 10, btc.DriftPct, 1e-9)

	usdt := summary.Positions[2]
	assert.Empty(t, usdt.Symbol)
	assert.Equal(t, 1.0, usdt.Price)

	assert.InDelta(t, 10, summary.MaxDriftPct, 1e-9)
	assert.InDelta(t, 20, summary.TotalAbsDriftPct, 1e-9)

	// Same NAV the rebalancer computes from the same snapshot
	held := map[string]float64{"BTC": 0.1, "ETH": 1, "USDT": 2000, "BNB": 3}
	assert.InDelta(t, rebalancing.ComputeNAV(strategy, held, snap), summary.NAV, 1e-9)
}

func TestGetBalances_ListsUnallocatedLast(t *testing.T) {
	strategies := new(MockStrategyStore)
	balances := new(MockBalanceProvider)
	prices := new(MockPrices)

	strategies.On("GetActiveStrategy", mock.Anything, "acct-1").Return(testStrategy(t), nil)
	balances.On("GetBalances", mock.Anything, "acct-1").Return([]domain.Balance{
		{Asset: "DOGE", Quantity: 100},
		{Asset: "USDT", Quantity: 500},
		{Asset: "BNB", Quantity: 3},
	}, nil)
	prices.On("Snapshot", mock.Anything, mock.Anything).Return(snapshot(map[string]float64{"BTCUSDT": 60000, "ETHUSDT": 2000}), nil)

	positions, err := newService(strategies, balances, prices).GetBalances(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, positions, 5)

	assert.Equal(t, "BTC", positions[0].Asset)
	assert.Equal(t, 0.0, positions[0].Quantity)
	assert.Equal(t, "BNB", positions[3].Asset)
	assert.False(t, positions[3].Allocated)
	assert.Equal(t, 0.0, positions[3].Value)
	assert.Equal(t, "DOGE", positions[4].Asset)
}

func TestGetSummary_Errors(t *testing.T) {
	t.Run("no strategy", func(t *testing.T) {
		strategies := new(MockStrategyStore)
		strategies.On("GetActiveStrategy", mock.Anything, "acct-1").Return(nil, nil)

		_, err := newService(strategies, new(MockBalanceProvider), new(MockPrices)).GetSummary(context.Background(), "acct-1")
		assert.True(t, errors.Is(err, domain.ErrStrategyNotFound))
	})

	t.Run("pricing unavailable", func(t *testing.T) {
		strategies := new(MockStrategyStore)
		balances := new(MockBalanceProvider)
		prices := new(MockPrices)
		strategies.On("GetActiveStrategy", mock.Anything, "acct-1").Return(testStrategy(t), nil)
		balances.On("GetBalances", mock.Anything, "acct-1").Return([]domain.Balance{}, nil)
		prices.On("Snapshot", mock.Anything, mock.Anything).Return(nil, domain.NewPricingUnavailable([]string{"ETHUSDT"}))

		_, err := newService(strategies, balances, prices).GetSummary(context.Background(), "acct-1")
		require.Error(t, err)
		assert.Equal(t, []string{"ETHUSDT"}, domain.MissingSymbols(err))
	})

	t.Run("balances fail", func(t *testing.T) {
		strategies := new(MockStrategyStore)
		balances := new(MockBalanceProvider)
		prices := new(MockPrices)
		strategies.On("GetActiveStrategy", mock.Anything, "acct-1").Return(testStrategy(t), nil)
		balances.On("GetBalances", mock.Anything, "acct-1").Return(nil, errors.New("timeout"))

		_, err := newService(strategies, balances, prices).GetSummary(context.Background(), "acct-1")
		require.Error(t, err)
		prices.AssertNotCalled(t, "Snapshot", mock.Anything, mock.Anything)
	})
}

func TestGetSummary_EmptyPortfolio(t *testing.T) {
	strategies := new(MockStrategyStore)
	balances := new(MockBalanceProvider)
	prices := new(MockPrices)
	strategies.On("GetActiveStrategy", mock.Anything, "acct-1").Return(testStrategy(t), nil)
	balances.On("GetBalances", mock.Anything, "acct-1").Return([]domain.Balance{}, nil)
	prices.On("Snapshot", mock.Anything, mock.Anything).Return(snapshot(map[string]float64{"BTCUSDT": 1, "ETHUSDT": 1}), nil)

	summary, err := newService(strategies, balances, prices).GetSummary(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, summary.NAV)
	assert.InDelta(t, 50, summary.MaxDriftPct, 1e-9)
}
