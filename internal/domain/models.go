// Package domain provides core domain models and types.
package domain

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an Action
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
	SideHold Side = "hold"
)

// IsOrder reports whether the side results in an exchange order
func (s Side) IsOrder() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the other trading side. Hold has no opposite.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideHold
	}
}

// Hold reasons attached to actions that produce no order
const (
	ReasonHoldOnly           = "hold_only"
	ReasonBelowThreshold     = "below_threshold"
	ReasonEmptyPortfolio     = "empty_portfolio"
	ReasonActiveOrder        = "active_order"
	ReasonFiltersUnavailable = "filters_unavailable"
	ReasonBelowMinNotional   = "below_min_notional"
	ReasonSwitchWithinBuffer = "switch_within_buffer"
)

// Balance is a held quantity of one asset. Supplied fresh for every computation.
type Balance struct {
	Asset    string  `json:"asset"`
	Quantity float64 `json:"quantity"`
}

// MarketPrice is a resolved price for a trading symbol
type MarketPrice struct {
	ObservedAt time.Time `json:"observed_at"`
	Symbol     string    `json:"symbol"`
	Source     string    `json:"source"` // "last" or "mid"
	Price      float64   `json:"price"`
}

// IsFresh reports whether the price is usable at now for the given TTL
func (p MarketPrice) IsFresh(now time.Time, ttl time.Duration) bool {
	if p.Price <= 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
		return false
	}
	return now.Sub(p.ObservedAt) <= ttl
}

// PriceSnapshot is the set of prices resolved once for one computation, keyed by symbol
type PriceSnapshot map[string]MarketPrice

// Price returns the snapshot price for symbol
func (s PriceSnapshot) Price(symbol string) (float64, bool) {
	p, ok := s[strings.ToUpper(symbol)]
	if !ok {
		return 0, false
	}
	return p.Price, true
}

// SymbolFilters are the exchange's precision and minimum-size constraints for a symbol
type SymbolFilters struct {
	Symbol      string          `json:"symbol"`
	TickSize    decimal.Decimal `json:"tick_size"`
	LotSize     decimal.Decimal `json:"lot_size"`
	MinNotional decimal.Decimal `json:"min_notional"`
}

// ActiveOrder is an outstanding order observed at the start of a computation
type ActiveOrder struct {
	OrderID       string          `json:"order_id"` // Exchange order id
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Asset         string          `json:"asset"`
	Side          Side            `json:"side"`
	LimitPrice    decimal.Decimal `json:"limit_price"`
}

// Action is one decision of the engine for one allocation. Hold actions carry
// zero order parameters and a Reason.
type Action struct {
	Asset         string          `json:"asset" msgpack:"asset"`
	Symbol        string          `json:"symbol" msgpack:"symbol"`
	Side          Side            `json:"side" msgpack:"side"`
	Reason        string          `json:"reason,omitempty" msgpack:"reason"`
	ClientOrderID string          `json:"client_order_id,omitempty" msgpack:"client_order_id"`
	CancelOrderID string          `json:"cancel_order_id,omitempty" msgpack:"cancel_order_id"`
	CurrentValue  float64         `json:"current_value" msgpack:"current_value"`
	TargetValue   float64         `json:"target_value" msgpack:"target_value"`
	DeltaValue    float64         `json:"delta_value" msgpack:"delta_value"`
	MarketPrice   float64         `json:"market_price" msgpack:"market_price"`
	OrderNotional float64         `json:"order_notional" msgpack:"order_notional"`
	LimitPrice    decimal.Decimal `json:"limit_price" msgpack:"limit_price"`
	BaseQuantity  decimal.Decimal `json:"base_quantity" msgpack:"base_quantity"`
	Notional      decimal.Decimal `json:"notional" msgpack:"notional"` // LimitPrice × BaseQuantity
}

// OrderStatus is the exchange-side state of a submitted order
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// IsActive reports whether an order with this status is still resting on the book
func (s OrderStatus) IsActive() bool {
	return s == OrderStatusNew || s == OrderStatusPartiallyFilled
}

// ActiveOrderStatuses lists the statuses treated as outstanding
var ActiveOrderStatuses = []OrderStatus{OrderStatusNew, OrderStatusPartiallyFilled}

// Order sources
const (
	OrderSourceManual = "manual"
	OrderSourceAuto   = "auto"
)

// Order is the persisted record of a submitted action
type Order struct {
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ClientOrderID   string          `json:"client_order_id"`
	AccountID       string          `json:"account_id"`
	Symbol          string          `json:"symbol"`
	Asset           string          `json:"asset"`
	Side            Side            `json:"side"`
	ExchangeOrderID string          `json:"exchange_order_id"`
	Status          OrderStatus     `json:"status"`
	Source          string          `json:"source"`
	LimitPrice      decimal.Decimal `json:"limit_price"`
	BaseQuantity    decimal.Decimal `json:"base_quantity"`
	FilledQuantity  decimal.Decimal `json:"filled_quantity"`
	TickEpoch       int64           `json:"tick_epoch"`
}

// ToActiveOrder converts a stored order into the engine's snapshot representation
func (o Order) ToActiveOrder() ActiveOrder {
	return ActiveOrder{
		OrderID:       o.ExchangeOrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Asset:         o.Asset,
		Side:          o.Side,
		LimitPrice:    o.LimitPrice,
	}
}

// OrderRequest is a limit order handed to the exchange adapter
type OrderRequest struct {
	Symbol        string
	Side          Side
	ClientOrderID string
	LimitPrice    decimal.Decimal
	Quantity      decimal.Decimal
}

// OrderStatusReport is the exchange's view of one order
type OrderStatusReport struct {
	ExchangeOrderID string
	ClientOrderID   string
	Status          OrderStatus
	FilledQuantity  decimal.Decimal
}

// Submission statuses recorded per action
const (
	SubmissionSubmitted    = "submitted"
	SubmissionDuplicate    = "duplicate"
	SubmissionRejected     = "rejected"
	SubmissionRateLimited  = "rate_limited"
	SubmissionFailed       = "failed"
	SubmissionNotAttempted = "not_attempted"
)

// SubmissionResult is the outcome of submitting one action
type SubmissionResult struct {
	ClientOrderID   string `json:"client_order_id" msgpack:"client_order_id"`
	Symbol          string `json:"symbol" msgpack:"symbol"`
	Side            Side   `json:"side" msgpack:"side"`
	Status          string `json:"status" msgpack:"status"`
	ExchangeOrderID string `json:"exchange_order_id,omitempty" msgpack:"exchange_order_id"`
	CanceledOrderID string `json:"canceled_order_id,omitempty" msgpack:"canceled_order_id"`
	Error           string `json:"error,omitempty" msgpack:"error"`
}

// Decision states of one invocation
const (
	DecisionRecorded = "recorded"
	DecisionRejected = "rejected"
	DecisionSkipped  = "skipped"
)

// DecisionLogEntry is the immutable audit record of one auto tick
type DecisionLogEntry struct {
	CreatedAt   time.Time          `json:"created_at"`
	ID          string             `json:"id"`
	AccountID   string             `json:"account_id"`
	State       string             `json:"state"`
	Reason      string             `json:"reason,omitempty"`
	Actions     []Action           `json:"actions"`
	Submissions []SubmissionResult `json:"submissions"`
	TickEpoch   int64              `json:"tick_epoch"`
	NAV         float64            `json:"nav"`
}

// ExchangeAccount identifies the exchange account trades are executed on
type ExchangeAccount struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Exchange string `json:"exchange"`
	Active   bool   `json:"active"`
}
