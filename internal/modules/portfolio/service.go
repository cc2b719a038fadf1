// Package portfolio values account holdings against the target allocation.
package portfolio

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// PriceSnapshotter resolves the prices of one valuation at once
type PriceSnapshotter interface {
	Snapshot(ctx context.Context, symbols []string) (domain.PriceSnapshot, error)
}

// Position is one valued holding
type Position struct {
	Asset      string  `json:"asset"`
	Symbol     string  `json:"symbol,omitempty"` // Empty for the quote asset
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
	Value      float64 `json:"value"`
	CurrentPct float64 `json:"current_pct"`
	TargetPct  float64 `json:"target_pct"`
	DriftPct   float64 `json:"drift_pct"` // current - target
	Allocated  bool    `json:"allocated"`
}

// Summary is the valuation of an account at one instant
type Summary struct {
	ComputedAt       time.Time  `json:"computed_at"`
	AccountID        string     `json:"account_id"`
	QuoteAsset       string     `json:"quote_asset"`
	NAV              float64    `json:"nav"`
	Positions        []Position `json:"positions"`
	MaxDriftPct      float64    `json:"max_drift_pct"`
	TotalAbsDriftPct float64    `json:"total_abs_drift_pct"`
}

// PortfolioService values balances with the same Price Service the rebalancer uses,
// so the figures shown match what a rebalance computation would see.
//
// Only allocated assets are priced and counted in NAV. Other balances are
// listed with a zero value.
type PortfolioService struct {
	strategies domain.StrategyStore
	balances   domain.BalanceProvider
	prices     PriceSnapshotter
	now        func() time.Time
	log        zerolog.Logger
}

// NewPortfolioService creates a new portfolio service
func NewPortfolioService(
	strategies domain.StrategyStore,
	balances domain.BalanceProvider,
	prices PriceSnapshotter,
	log zerolog.Logger,
) *PortfolioService {
	return &PortfolioService{
		strategies: strategies,
		balances:   balances,
		prices:     prices,
		now:        time.Now,
		log:        log.With().Str("service", "portfolio").Logger(),
	}
}

// GetBalances returns every balance of the account, allocated assets first in allocation order
func (s *PortfolioService) GetBalances(ctx context.Context, accountID string) ([]Position, error) {
	summary, err := s.value(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return summary.Positions, nil
}

// GetSummary returns NAV and drift against the target allocation.
// Positions only include allocated assets.
func (s *PortfolioService) GetSummary(ctx context.Context, accountID string) (*Summary, error) {
	summary, err := s.value(ctx, accountID)
	if err != nil {
		return nil, err
	}

	allocated := make([]Position, 0, len(summary.Positions))
	for _, p := range summary.Positions {
		if p.Allocated {
			allocated = append(allocated, p)
		}
	}
	summary.Positions = allocated
	return summary, nil
}

func (s *PortfolioService) value(ctx context.Context, accountID string) (*Summary, error) {
	strategy, err := s.strategies.GetActiveStrategy(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load strategy: %w", err)
	}
	if strategy == nil {
		return nil, domain.NewError(domain.CodeStrategyNotFound, "no strategy for account %s", accountID)
	}

	balances, err := s.balances.GetBalances(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}

	prices, err := s.prices.Snapshot(ctx, strategy.PricedSymbols())
	if err != nil {
		return nil, err
	}

	held := make(map[string]float64, len(balances))
	for _, b := range balances {
		held[strings.ToUpper(strings.TrimSpace(b.Asset))] += b.Quantity
	}

	positions := make([]Position, 0, len(balances)+len(strategy.Allocations))
	values := make([]float64, 0, len(strategy.Allocations))
	for _, alloc := range strategy.Allocations {
		p := Position{
			Asset:     alloc.Asset,
			Symbol:    strategy.Symbol(alloc.Asset),
			Quantity:  held[alloc.Asset],
			TargetPct: alloc.TargetPercentage,
			Allocated: true,
		}
		if p.Symbol == "" {
			p.Price = 1
		} else {
			p.Price, _ = prices.Price(p.Symbol)
		}
		p.Value = p.Quantity * p.Price
		values = append(values, p.Value)
		positions = append(positions, p)
	}

	nav := floats.Sum(values)
	drifts := make([]float64, len(positions))
	for i := range positions {
		if nav > 0 {
			positions[i].CurrentPct = positions[i].Value / nav * 100
		}
		positions[i].DriftPct = positions[i].CurrentPct - positions[i].TargetPct
		drifts[i] = math.Abs(positions[i].DriftPct)
	}

	unallocated := make([]Position, 0)
	for asset, qty := range held {
		if isAllocated(strategy, asset) || qty == 0 {
			continue
		}
		unallocated = append(unallocated, Position{Asset: asset, Quantity: qty})
	}
	sort.Slice(unallocated, func(i, j int) bool { return unallocated[i].Asset < unallocated[j].Asset })
	positions = append(positions, unallocated...)

	summary := &Summary{
		ComputedAt:       s.now(),
		AccountID:        accountID,
		QuoteAsset:       strategy.QuoteAsset,
		NAV:              nav,
		Positions:        positions,
		TotalAbsDriftPct: floats.Sum(drifts),
	}
	if len(drifts) > 0 {
		summary.MaxDriftPct = floats.Max(drifts)
	}

	s.log.Debug().
		Str("account_id", accountID).
		Float64("nav", nav).
		Float64("max_drift_pct", summary.MaxDriftPct).
		Msg("Portfolio valued")

	return summary, nil
}

func isAllocated(strategy *domain.StrategyConfig, asset string) bool {
	for _, a := range strategy.Allocations {
		if a.Asset == asset {
			return true
		}
	}
	return false
}
