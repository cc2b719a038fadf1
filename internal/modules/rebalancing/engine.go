// Package rebalancing computes and executes the orders that move a portfolio
// toward its target allocation.
package rebalancing

import (
	"math"
	"strings"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/trading"
	"github.com/shopspring/decimal"
)

// EngineInput is everything one computation needs. All of it is a snapshot taken
// at the start of the invocation; the engine never fetches anything itself.
type EngineInput struct {
	Strategy     *domain.StrategyConfig
	Prices       domain.PriceSnapshot
	ActiveOrders map[string]domain.ActiveOrder   // keyed by asset
	Filters      map[string]domain.SymbolFilters // keyed by symbol
	UserID       string
	Balances     []domain.Balance
	TickEpoch    int64
}

// ComputeActions returns one action per allocation, in allocation order.
//
// The strategy is validated before any price or balance is looked at. NAV is
// computed once and reused for every allocation. Identical inputs always
// produce identical actions, client order ids included.
func ComputeActions(in EngineInput) ([]domain.Action, error) {
	if in.Strategy == nil {
		return nil, domain.NewError(domain.CodeInvalidStrategy, "strategy is required")
	}
	if err := in.Strategy.Validate(); err != nil {
		return nil, err
	}
	strategy := in.Strategy

	var missing []string
	for _, symbol := range strategy.PricedSymbols() {
		if _, ok := in.Prices.Price(symbol); !ok {
			missing = append(missing, symbol)
		}
	}
	if len(missing) > 0 {
		return nil, domain.NewPricingUnavailable(missing)
	}

	holdings := holdingsByAsset(in.Balances)
	nav := ComputeNAV(strategy, holdings, in.Prices)
	threshold := math.Max(strategy.MinDeltaQuote, nav*strategy.MinDeltaPct/100)

	actions := make([]domain.Action, 0, len(strategy.Allocations))
	for i, alloc := range strategy.Allocations {
		actions = append(actions, computeAction(in, i, alloc, holdings, nav, threshold))
	}
	return actions, nil
}

// ComputeNAV values the allocated assets of a portfolio. The quote asset counts at 1.0,
// balances of assets outside the strategy are ignored.
func ComputeNAV(strategy *domain.StrategyConfig, holdings map[string]float64, prices domain.PriceSnapshot) float64 {
	nav := 0.0
	for _, alloc := range strategy.Allocations {
		nav += assetValue(strategy, alloc.Asset, holdings[alloc.Asset], prices)
	}
	return nav
}

func computeAction(
	in EngineInput,
	index int,
	alloc domain.Allocation,
	holdings map[string]float64,
	nav, threshold float64,
) domain.Action {
	strategy := in.Strategy
	symbol := strategy.Symbol(alloc.Asset)
	held := holdings[alloc.Asset]

	action := domain.Action{
		Asset:        alloc.Asset,
		Symbol:       symbol,
		Side:         domain.SideHold,
		CurrentValue: assetValue(strategy, alloc.Asset, held, in.Prices),
		TargetValue:  nav * alloc.TargetPercentage / 100,
	}
	action.DeltaValue = action.TargetValue - action.CurrentValue

	if symbol == "" || alloc.HoldOnly {
		return hold(action, domain.ReasonHoldOnly)
	}

	market, _ := in.Prices.Price(symbol)
	action.MarketPrice = market

	if nav <= 0 {
		return hold(action, domain.ReasonEmptyPortfolio)
	}
	if action.DeltaValue == 0 || math.Abs(action.DeltaValue) < threshold {
		return hold(action, domain.ReasonBelowThreshold)
	}

	side := domain.SideBuy
	if action.DeltaValue < 0 {
		side = domain.SideSell
	}

	if active, ok := in.ActiveOrders[alloc.Asset]; ok && active.Side.IsOrder() {
		if active.Side == side {
			return hold(action, domain.ReasonActiveOrder)
		}
		if !movedBeyondBuffer(market, active.LimitPrice, strategy.SwitchCancelBufferPct) {
			return hold(action, domain.ReasonSwitchWithinBuffer)
		}
		action.CancelOrderID = active.ClientOrderID
	}

	filters, ok := in.Filters[symbol]
	if !ok {
		return hold(action, domain.ReasonFiltersUnavailable)
	}

	notional := math.Min(nav*strategy.OrderSizePct/100, math.Abs(action.DeltaValue))
	order, err := normalizeOrder(market, notional, strategy.OrderStepPct, filters, side)
	if err == nil && side == domain.SideSell {
		order, err = trading.CapQuantity(order, decimal.NewFromFloat(held), filters)
	}
	if err != nil {
		// No replacement, so the resting opposite order is left alone
		return hold(action, domain.ReasonBelowMinNotional)
	}

	action.Side = side
	action.OrderNotional = notional
	action.LimitPrice = order.LimitPrice
	action.BaseQuantity = order.BaseQuantity
	action.Notional = order.Notional
	action.ClientOrderID = trading.GenerateClientOrderID(in.UserID, symbol, side, in.TickEpoch, index)
	return action
}

// normalizeOrder offsets the market price by the step, toward the passive side of the book,
// and snaps the order to the symbol filters
func normalizeOrder(market, notional, stepPct float64, filters domain.SymbolFilters, side domain.Side) (trading.NormalizedOrder, error) {
	offset := decimal.NewFromFloat(stepPct).Div(decimal.NewFromInt(100))
	factor := decimal.NewFromInt(1).Sub(offset)
	if side == domain.SideSell {
		factor = decimal.NewFromInt(1).Add(offset)
	}

	rawPrice := decimal.NewFromFloat(market).Mul(factor)
	return trading.Normalize(rawPrice, decimal.NewFromFloat(notional), filters, side)
}

// movedBeyondBuffer reports whether the market moved away from a resting order's
// price by more than bufferPct percent
func movedBeyondBuffer(market float64, orderPrice decimal.Decimal, bufferPct float64) bool {
	price := orderPrice.InexactFloat64()
	if price <= 0 {
		return true
	}
	moved := math.Abs(market-price) / price * 100
	return moved > bufferPct
}

func assetValue(strategy *domain.StrategyConfig, asset string, quantity float64, prices domain.PriceSnapshot) float64 {
	if asset == strategy.QuoteAsset {
		return quantity
	}
	price, _ := prices.Price(strategy.Symbol(asset))
	return quantity * price
}

func holdingsByAsset(balances []domain.Balance) map[string]float64 {
	holdings := make(map[string]float64, len(balances))
	for _, b := range balances {
		holdings[strings.ToUpper(strings.TrimSpace(b.Asset))] += b.Quantity
	}
	return holdings
}

func hold(action domain.Action, reason string) domain.Action {
	action.Side = domain.SideHold
	action.Reason = reason
	action.CancelOrderID = ""
	return action
}

// Summary counts the actions of one computation by side
type Summary struct {
	Buys         int     `json:"buys"`
	Sells        int     `json:"sells"`
	Holds        int     `json:"holds"`
	BuyNotional  float64 `json:"buy_notional"`
	SellNotional float64 `json:"sell_notional"`
}

// Summarize aggregates actions for logs and responses
func Summarize(actions []domain.Action) Summary {
	var s Summary
	for _, a := range actions {
		switch a.Side {
		case domain.SideBuy:
			s.Buys++
			s.BuyNotional += a.Notional.InexactFloat64()
		case domain.SideSell:
			s.Sells++
			s.SellNotional += a.Notional.InexactFloat64()
		default:
			s.Holds++
		}
	}
	return s
}
