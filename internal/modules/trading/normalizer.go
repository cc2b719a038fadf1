package trading

import (
	"fmt"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/shopspring/decimal"
)

// NormalizedOrder is a limit order snapped to the exchange filters of its symbol
type NormalizedOrder struct {
	LimitPrice   decimal.Decimal
	BaseQuantity decimal.Decimal
	Notional     decimal.Decimal
}

// Normalize turns a raw limit price and quote notional into an order the exchange accepts.
//
// The steps run in a fixed order: the price is snapped to the tick (down for buys,
// up for sells), the base quantity is derived from the notional and truncated to the
// lot, and the resulting notional is checked against the minimum. Orders that fall
// below the minimum return ErrBelowMinNotional and must not be submitted.
func Normalize(rawPrice, rawNotional decimal.Decimal, filters domain.SymbolFilters, side domain.Side) (NormalizedOrder, error) {
	if !side.IsOrder() {
		return NormalizedOrder{}, fmt.Errorf("cannot normalize %q order", side)
	}
	if !rawPrice.IsPositive() {
		return NormalizedOrder{}, fmt.Errorf("invalid raw price %s for %s", rawPrice, filters.Symbol)
	}

	price := RoundPrice(rawPrice, filters.TickSize, side)
	if !price.IsPositive() || !rawNotional.IsPositive() {
		return NormalizedOrder{}, belowMinNotional(filters, decimal.Zero)
	}

	quantity := NormalizeQuantity(rawNotional.Div(price), filters)
	return finalize(price, quantity, filters)
}

// CapQuantity reduces an order so it never sells more than maxQuantity,
// re-checking the minimum notional after truncating to the lot.
func CapQuantity(order NormalizedOrder, maxQuantity decimal.Decimal, filters domain.SymbolFilters) (NormalizedOrder, error) {
	if order.BaseQuantity.LessThanOrEqual(maxQuantity) {
		return order, nil
	}
	if !maxQuantity.IsPositive() {
		return NormalizedOrder{}, belowMinNotional(filters, decimal.Zero)
	}
	return finalize(order.LimitPrice, NormalizeQuantity(maxQuantity, filters), filters)
}

// RoundPrice snaps a price to a multiple of the tick size. Buys round down and
// sells round up so the limit never moves toward the counterparty.
func RoundPrice(price, tick decimal.Decimal, side domain.Side) decimal.Decimal {
	if side == domain.SideSell {
		return ceilToStep(price, tick)
	}
	return floorToStep(price, tick)
}

// NormalizeQuantity truncates a base quantity to a multiple of the lot size
func NormalizeQuantity(quantity decimal.Decimal, filters domain.SymbolFilters) decimal.Decimal {
	if !quantity.IsPositive() {
		return decimal.Zero
	}
	return floorToStep(quantity, filters.LotSize)
}

func finalize(price, quantity decimal.Decimal, filters domain.SymbolFilters) (NormalizedOrder, error) {
	notional := price.Mul(quantity)
	if !quantity.IsPositive() || notional.LessThan(filters.MinNotional) {
		return NormalizedOrder{}, belowMinNotional(filters, notional)
	}
	return NormalizedOrder{
		LimitPrice:   price,
		BaseQuantity: quantity,
		Notional:     notional,
	}, nil
}

// floorToStep rounds a positive value down to a multiple of step. A non-positive step is no constraint.
func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Sub(v.Mod(step))
}

func ceilToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	rem := v.Mod(step)
	if rem.IsZero() {
		return v
	}
	return v.Sub(rem).Add(step)
}

func belowMinNotional(filters domain.SymbolFilters, notional decimal.Decimal) error {
	return domain.NewError(domain.CodeBelowMinNotional,
		"%s notional %s is below minimum %s", filters.Symbol, notional.String(), filters.MinNotional.String())
}
