// Package pricing provides the Price Service, the single source of prices for
// valuation, target computation and order pricing.
package pricing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Price sources
const (
	SourceLast = "last"
	SourceMid  = "mid"
)

// QuoteFeed exposes the best bid and ask of a streaming order book feed
type QuoteFeed interface {
	Quote(symbol string) (bid, ask float64, observedAt time.Time, ok bool)
}

// Config controls how prices are resolved
type Config struct {
	Source         string        // SourceLast or SourceMid
	UseCache       bool          // Serve prices younger than TTL from memory
	TTL            time.Duration // Maximum age of a usable price
	MaxConcurrency int           // Parallel fetches per snapshot
}

// Service resolves market prices with a TTL cache in front of the exchange
type Service struct {
	fetcher domain.PriceFetcher
	feed    QuoteFeed
	cache   *Cache
	group   singleflight.Group
	cfg     Config
	now     func() time.Time
	log     zerolog.Logger
}

// NewService creates a price service. feed may be nil, in which case mid prices fall back to last trade.
func NewService(fetcher domain.PriceFetcher, feed QuoteFeed, cfg Config, log zerolog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 4
	}
	if cfg.Source == "" {
		cfg.Source = SourceLast
	}

	return &Service{
		fetcher: fetcher,
		feed:    feed,
		cache:   NewCache(),
		cfg:     cfg,
		now:     time.Now,
		log:     log.With().Str("service", "pricing").Logger(),
	}
}

// GetPrice returns a fresh price for symbol or a PRICING_UNAVAILABLE error
func (s *Service) GetPrice(ctx context.Context, symbol string) (domain.MarketPrice, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if s.cfg.UseCache {
		if cached, ok := s.cache.Get(symbol); ok && cached.IsFresh(s.now(), s.cfg.TTL) {
			return cached, nil
		}
	}

	v, err, _ := s.group.Do(symbol, func() (interface{}, error) {
		return s.fetch(ctx, symbol)
	})
	if err != nil {
		return domain.MarketPrice{}, &domain.Error{
			Code:    domain.CodePricingUnavailable,
			Message: "price lookup failed",
			Symbols: []string{symbol},
			Err:     err,
		}
	}

	price := v.(domain.MarketPrice)
	if !price.IsFresh(s.now(), s.cfg.TTL) {
		return domain.MarketPrice{}, domain.NewPricingUnavailable([]string{symbol})
	}

	if s.cfg.UseCache {
		s.cache.Set(price)
	}
	return price, nil
}

func (s *Service) fetch(ctx context.Context, symbol string) (domain.MarketPrice, error) {
	now := s.now()

	if s.cfg.Source == SourceMid && s.feed != nil {
		bid, ask, observedAt, ok := s.feed.Quote(symbol)
		if ok && bid > 0 && ask > 0 && now.Sub(observedAt) <= s.cfg.TTL {
			return domain.MarketPrice{
				Symbol:     symbol,
				Price:      (bid + ask) / 2,
				ObservedAt: observedAt,
				Source:     SourceMid,
			}, nil
		}
		s.log.Debug().Str("symbol", symbol).Msg("No fresh book quote, falling back to last trade")
	}

	last, err := s.fetcher.LastPrice(ctx, symbol)
	if err != nil {
		return domain.MarketPrice{}, fmt.Errorf("failed to fetch last price for %s: %w", symbol, err)
	}

	return domain.MarketPrice{
		Symbol:     symbol,
		Price:      last,
		ObservedAt: now,
		Source:     SourceLast,
	}, nil
}

// Snapshot resolves every distinct symbol once and returns the prices for one computation.
// Either every symbol resolves or the error lists all missing symbols; partial snapshots are never returned.
func (s *Service) Snapshot(ctx context.Context, symbols []string) (domain.PriceSnapshot, error) {
	distinct := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		distinct = append(distinct, sym)
	}

	var (
		mu       sync.Mutex
		snapshot = make(domain.PriceSnapshot, len(distinct))
		missing  []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)

	for _, sym := range distinct {
		g.Go(func() error {
			price, err := s.GetPrice(gctx, sym)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.log.Warn().Err(err).Str("symbol", sym).Msg("Price unavailable")
				missing = append(missing, sym)
				return nil
			}
			snapshot[sym] = price
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, domain.NewPricingUnavailable(missing)
	}

	return snapshot, nil
}

// Invalidate drops the cached price of a symbol
func (s *Service) Invalidate(symbol string) {
	s.cache.Delete(strings.ToUpper(symbol))
}

// PurgeStale removes cached prices older than the TTL
func (s *Service) PurgeStale() int {
	return s.cache.Cleanup(s.now().Add(-s.cfg.TTL))
}

// CacheSize returns the number of cached symbols
func (s *Service) CacheSize() int {
	return s.cache.Len()
}
