package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
)

// AllocationSumTolerance is how far target percentages may drift from 100
const AllocationSumTolerance = 0.1

// MinQuoteAllocationPct is the minimum share the quote asset must be allocated
const MinQuoteAllocationPct = 10.0

// Allocation is one target line of a strategy
type Allocation struct {
	Asset            string  `json:"asset" yaml:"asset"`
	TargetPercentage float64 `json:"target_percentage" yaml:"target_percentage"`
	HoldOnly         bool    `json:"hold_only" yaml:"hold_only"`
}

// StrategyConfig is the validated rebalancing configuration of one account.
// Every *Pct field is in percent units (1.0 == 1%).
type StrategyConfig struct {
	UpdatedAt             time.Time    `json:"updated_at" yaml:"-"`
	AccountID             string       `json:"account_id" yaml:"account_id"`
	QuoteAsset            string       `json:"quote_asset" yaml:"quote_asset"`
	Allocations           []Allocation `json:"allocations" yaml:"allocations"`
	OrderSizePct          float64      `json:"order_size_pct" yaml:"order_size_pct"`
	OrderStepPct          float64      `json:"order_step_pct" yaml:"order_step_pct"`
	MinDeltaQuote         float64      `json:"min_delta_quote" yaml:"min_delta_quote"`
	MinDeltaPct           float64      `json:"min_delta_pct" yaml:"min_delta_pct"`
	SwitchCancelBufferPct float64      `json:"switch_cancel_buffer_pct" yaml:"switch_cancel_buffer_pct"`
	IsActive              bool         `json:"is_active" yaml:"is_active"`
	AutoTradeEnabled      bool         `json:"auto_trade_enabled" yaml:"auto_trade_enabled"`
}

// NewStrategyConfig normalizes asset codes and returns the config only when it validates
func NewStrategyConfig(cfg StrategyConfig) (*StrategyConfig, error) {
	cfg.QuoteAsset = normalizeAsset(cfg.QuoteAsset)
	allocations := make([]Allocation, len(cfg.Allocations))
	for i, a := range cfg.Allocations {
		a.Asset = normalizeAsset(a.Asset)
		allocations[i] = a
	}
	cfg.Allocations = allocations

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every construction rule and reports the first violation
func (c *StrategyConfig) Validate() error {
	if strings.TrimSpace(c.AccountID) == "" {
		return invalidStrategy("account_id is required")
	}
	if len(c.Allocations) == 0 {
		return invalidStrategy("allocations must not be empty")
	}
	if c.QuoteAsset == "" {
		return invalidStrategy("quote_asset is required")
	}

	seen := make(map[string]struct{}, len(c.Allocations))
	percentages := make([]float64, 0, len(c.Allocations))
	quoteFound := false

	for _, a := range c.Allocations {
		if a.Asset == "" {
			return invalidStrategy("allocation asset must not be empty")
		}
		if _, dup := seen[a.Asset]; dup {
			return invalidStrategy(fmt.Sprintf("duplicate allocation asset %s", a.Asset))
		}
		seen[a.Asset] = struct{}{}

		if !inRange(a.TargetPercentage, 0, 100) {
			return invalidStrategy(fmt.Sprintf("target percentage of %s must be within [0, 100]", a.Asset))
		}
		percentages = append(percentages, a.TargetPercentage)

		if a.Asset == c.QuoteAsset {
			quoteFound = true
			if a.TargetPercentage < MinQuoteAllocationPct {
				return invalidStrategy(fmt.Sprintf("quote asset %s must be allocated at least %.0f%%", a.Asset, MinQuoteAllocationPct))
			}
		}
	}

	if sum := floats.Sum(percentages); math.Abs(sum-100) > AllocationSumTolerance {
		return invalidStrategy(fmt.Sprintf("allocation percentages sum to %.4f, expected 100", sum))
	}
	if !quoteFound {
		return invalidStrategy(fmt.Sprintf("quote asset %s must be part of the allocations", c.QuoteAsset))
	}

	if c.OrderSizePct <= 0 || c.OrderSizePct > 100 {
		return invalidStrategy("order_size_pct must be within (0, 100]")
	}
	if c.OrderStepPct < 0 || c.OrderStepPct >= 100 {
		return invalidStrategy("order_step_pct must be within [0, 100)")
	}
	if c.MinDeltaQuote < 0 || math.IsNaN(c.MinDeltaQuote) {
		return invalidStrategy("min_delta_quote must not be negative")
	}
	if c.MinDeltaPct < 0 || math.IsNaN(c.MinDeltaPct) {
		return invalidStrategy("min_delta_pct must not be negative")
	}
	if c.SwitchCancelBufferPct < 0 || math.IsNaN(c.SwitchCancelBufferPct) {
		return invalidStrategy("switch_cancel_buffer_pct must not be negative")
	}

	return nil
}

// Symbol returns the trading symbol of asset against the quote asset, empty for the quote asset itself
func (c *StrategyConfig) Symbol(asset string) string {
	asset = normalizeAsset(asset)
	if asset == c.QuoteAsset {
		return ""
	}
	return asset + c.QuoteAsset
}

// PricedSymbols lists the symbols whose price a computation needs, in allocation order
func (c *StrategyConfig) PricedSymbols() []string {
	symbols := make([]string, 0, len(c.Allocations))
	for _, a := range c.Allocations {
		if s := c.Symbol(a.Asset); s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

func invalidStrategy(msg string) error {
	return &Error{Code: CodeInvalidStrategy, Message: msg}
}
