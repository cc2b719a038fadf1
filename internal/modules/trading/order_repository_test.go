package trading

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	testingpkg "github.com/aristath/rebalancer/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrderRepo(t *testing.T) *OrderRepository {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	t.Cleanup(cleanup)

	repo := NewOrderRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return repo
}

func sampleOrder(clientOrderID, symbol string, side domain.Side) domain.Order {
	return domain.Order{
		ClientOrderID:   clientOrderID,
		AccountID:       "acct-1",
		Symbol:          symbol,
		Asset:           symbol[:3],
		Side:            side,
		ExchangeOrderID: "9001",
		Source:          domain.OrderSourceAuto,
		LimitPrice:      d("60000.12"),
		BaseQuantity:    d("0.00079"),
		TickEpoch:       1714564800,
	}
}

func TestOrderRepository_CreateIsIdempotent(t *testing.T) {
	repo := newOrderRepo(t)
	ctx := context.Background()

	order := sampleOrder("aaaaaaaaaaaaaaaaaaaa", "BTCUSDT", domain.SideBuy)
	require.NoError(t, repo.Create(ctx, order))

	order.LimitPrice = d("1")
	require.NoError(t, repo.Create(ctx, order))

	stored, err := repo.GetByClientOrderID(ctx, order.ClientOrderID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "60000.12", stored.LimitPrice.String())
	assert.Equal(t, domain.OrderStatusNew, stored.Status)
	assert.Equal(t, "0", stored.FilledQuantity.String())

	exists, err := repo.Exists(ctx, order.ClientOrderID)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.Exists(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOrderRepository_CreateValidates(t *testing.T) {
	repo := newOrderRepo(t)

	err := repo.Create(context.Background(), domain.Order{Side: domain.SideBuy})
	assert.Error(t, err)

	err = repo.Create(context.Background(), domain.Order{ClientOrderID: "x", Side: domain.SideHold})
	assert.Error(t, err)
}

func TestOrderRepository_GetActiveOrder(t *testing.T) {
	repo := newOrderRepo(t)
	ctx := context.Background()

	none, err := repo.GetActiveOrder(ctx, "acct-1", "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, repo.Create(ctx, sampleOrder("first", "BTCUSDT", domain.SideBuy)))
	require.NoError(t, repo.Create(ctx, sampleOrder("second", "BTCUSDT", domain.SideSell)))
	require.NoError(t, repo.Create(ctx, sampleOrder("other", "ETHUSDT", domain.SideBuy)))

	active, err := repo.GetActiveOrder(ctx, "acct-1", "btcusdt")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "second", active.ClientOrderID)

	require.NoError(t, repo.UpdateStatus(ctx, "second", domain.OrderStatusReport{
		Status:         domain.OrderStatusFilled,
		FilledQuantity: d("0.00079"),
	}))

	active, err = repo.GetActiveOrder(ctx, "acct-1", "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "first", active.ClientOrderID)

	missing, err := repo.GetActiveOrder(ctx, "acct-2", "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestOrderRepository_ListAndUpdate(t *testing.T) {
	repo := newOrderRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleOrder("one", "BTCUSDT", domain.SideBuy)))
	require.NoError(t, repo.Create(ctx, sampleOrder("two", "ETHUSDT", domain.SideSell)))

	require.NoError(t, repo.UpdateStatus(ctx, "one", domain.OrderStatusReport{
		ExchangeOrderID: "777",
		Status:          domain.OrderStatusCanceled,
		FilledQuantity:  d("0"),
	}))

	active, err := repo.ListActive(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "two", active[0].ClientOrderID)

	all, err := repo.List(ctx, "acct-1", "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "two", all[0].ClientOrderID)

	canceled, err := repo.List(ctx, "acct-1", domain.OrderStatusCanceled, 10)
	require.NoError(t, err)
	require.Len(t, canceled, 1)
	assert.Equal(t, "777", canceled[0].ExchangeOrderID)

	err = repo.UpdateStatus(ctx, "missing", domain.OrderStatusReport{Status: domain.OrderStatusFilled})
	assert.Error(t, err)
}
