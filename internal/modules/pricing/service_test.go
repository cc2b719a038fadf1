package pricing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu     sync.Mutex
	prices map[string]float64
	calls  map[string]int
	total  atomic.Int32
	gate   chan struct{}
}

func newFakeFetcher(prices map[string]float64) *fakeFetcher {
	return &fakeFetcher{prices: prices, calls: map[string]int{}}
}

func (f *fakeFetcher) LastPrice(ctx context.Context, symbol string) (float64, error) {
	f.total.Add(1)
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	price, ok := f.prices[symbol]
	if !ok {
		return 0, errors.New("unknown symbol")
	}
	return price, nil
}

func (f *fakeFetcher) callsFor(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

type fakeFeed struct {
	bid, ask   float64
	observedAt time.Time
	ok         bool
}

func (f *fakeFeed) Quote(symbol string) (float64, float64, time.Time, bool) {
	return f.bid, f.ask, f.observedAt, f.ok
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(fetcher domain.PriceFetcher, feed QuoteFeed, cfg Config) (*Service, *testClock) {
	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(fetcher, feed, cfg, zerolog.New(nil).Level(zerolog.Disabled))
	svc.now = clock.Now
	return svc, clock
}

func TestGetPrice_CacheHitWithinTTL(t *testing.T) {
	fetcher := newFakeFetcher(map[string]float64{"BTCUSDT": 60000})
	svc, clock := newTestService(fetcher, nil, Config{UseCache: true, TTL: 10 * time.Second})
	ctx := context.Background()

	first, err := svc.GetPrice(ctx, "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, 60000.0, first.Price)
	assert.Equal(t, SourceLast, first.Source)

	clock.Advance(9 * time.Second)
	fetcher.prices["BTCUSDT"] = 61000

	second, err := svc.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 60000.0, second.Price)
	assert.Equal(t, 1, fetcher.callsFor("BTCUSDT"))

	clock.Advance(2 * time.Second)
	third, err := svc.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 61000.0, third.Price)
	assert.Equal(t, 2, fetcher.callsFor("BTCUSDT"))
}

func TestGetPrice_NoCacheAlwaysFetches(t *testing.T) {
	fetcher := newFakeFetcher(map[string]float64{"ETHUSDT": 3000})
	svc, _ := newTestService(fetcher, nil, Config{UseCache: false, TTL: 10 * time.Second})

	for i := 0; i < 3; i++ {
		_, err := svc.GetPrice(context.Background(), "ETHUSDT")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, fetcher.callsFor("ETHUSDT"))
	assert.Equal(t, 0, svc.CacheSize())
}

func TestGetPrice_Unavailable(t *testing.T) {
	svc, _ := newTestService(newFakeFetcher(nil), nil, Config{UseCache: true})

	_, err := svc.GetPrice(context.Background(), "DOGEUSDT")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPricingUnavailable))
	assert.Equal(t, []string{"DOGEUSDT"}, domain.MissingSymbols(err))
}

func TestGetPrice_MidFromFreshBook(t *testing.T) {
	fetcher := newFakeFetcher(map[string]float64{"BTCUSDT": 60000})
	feed := &fakeFeed{bid: 59990, ask: 60010, ok: true}
	svc, clock := newTestService(fetcher, feed, Config{Source: SourceMid, TTL: 10 * time.Second})
	feed.observedAt = clock.Now().Add(-2 * time.Second)

	price, err := svc.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 60000.0, price.Price)
	assert.Equal(t, SourceMid, price.Source)
	assert.Equal(t, 0, fetcher.callsFor("BTCUSDT"))
}

func TestGetPrice_StaleBookFallsBackToLast(t *testing.T) {
	fetcher := newFakeFetcher(map[string]float64{"BTCUSDT": 60123})
	feed := &fakeFeed{bid: 59990, ask: 60010, ok: true}
	svc, clock := newTestService(fetcher, feed, Config{Source: SourceMid, TTL: 10 * time.Second})
	feed.observedAt = clock.Now().Add(-time.Minute)

	price, err := svc.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 60123.0, price.Price)
	assert.Equal(t, SourceLast, price.Source)
}

func TestGetPrice_CoalescesConcurrentMisses(t *testing.T) {
	fetcher := newFakeFetcher(map[string]float64{"BTCUSDT": 60000})
	fetcher.gate = make(chan struct{})
	svc, _ := newTestService(fetcher, nil, Config{UseCache: true, TTL: 10 * time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			price, err := svc.GetPrice(context.Background(), "BTCUSDT")
			assert.NoError(t, err)
			assert.Equal(t, 60000.0, price.Price)
		}()
	}

	require.Eventually(t, func() bool { return fetcher.total.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(fetcher.gate)
	wg.Wait()

	assert.Equal(t, 1, fetcher.callsFor("BTCUSDT"))
}

func TestSnapshot_ResolvesEachSymbolOnce(t *testing.T) {
	fetcher := newFakeFetcher(map[string]float64{"BTCUSDT": 60000, "ETHUSDT": 3000})
	svc, _ := newTestService(fetcher, nil, Config{UseCache: false, TTL: 10 * time.Second, MaxConcurrency: 2})

	snap, err := svc.Snapshot(context.Background(), []string{"BTCUSDT", "ethusdt", "BTCUSDT", ""})
	require.NoError(t, err)
	require.Len(t, snap, 2)

	btc, ok := snap.Price("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 60000.0, btc)
	assert.Equal(t, 1, fetcher.callsFor("BTCUSDT"))
	assert.Equal(t, 1, fetcher.callsFor("ETHUSDT"))
}

func TestSnapshot_ListsAllMissingSymbols(t *testing.T) {
	fetcher := newFakeFetcher(map[string]float64{"BTCUSDT": 60000})
	svc, _ := newTestService(fetcher, nil, Config{UseCache: true, TTL: 10 * time.Second})

	snap, err := svc.Snapshot(context.Background(), []string{"SOLUSDT", "BTCUSDT", "ADAUSDT"})
	require.Error(t, err)
	assert.Nil(t, snap)
	assert.True(t, errors.Is(err, domain.ErrPricingUnavailable))
	assert.Equal(t, []string{"ADAUSDT", "SOLUSDT"}, domain.MissingSymbols(err))
}

func TestInvalidateAndPurge(t *testing.T) {
	fetcher := newFakeFetcher(map[string]float64{"BTCUSDT": 60000, "ETHUSDT": 3000})
	svc, clock := newTestService(fetcher, nil, Config{UseCache: true, TTL: 10 * time.Second})
	ctx := context.Background()

	_, err := svc.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	_, err = svc.GetPrice(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, svc.CacheSize())

	svc.Invalidate("btcusdt")
	assert.Equal(t, 1, svc.CacheSize())

	_, err = svc.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.callsFor("BTCUSDT"))

	clock.Advance(11 * time.Second)
	assert.Equal(t, 2, svc.PurgeStale())
	assert.Equal(t, 0, svc.CacheSize())
}
