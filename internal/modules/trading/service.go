package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// OrderStatusStore is the part of the order repository the sync needs
type OrderStatusStore interface {
	ListActive(ctx context.Context, accountID string) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, clientOrderID string, report domain.OrderStatusReport) error
}

// OrderStatusFetcher queries the exchange for the state of one order
type OrderStatusFetcher interface {
	GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*domain.OrderStatusReport, error)
}

// PriceInvalidator drops cached prices after fills
type PriceInvalidator interface {
	Invalidate(symbol string)
}

// Compile-time check that OrderRepository implements OrderStatusStore
var _ OrderStatusStore = (*OrderRepository)(nil)

// SyncResult summarizes one order status sync
type SyncResult struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Filled  int `json:"filled"`
	Closed  int `json:"closed"`
	Failed  int `json:"failed"`
}

// OrderSyncService keeps locally recorded orders in step with the exchange.
//
// Each locally active order is polled once per sync. Status and filled
// quantity changes are written back, and any fill invalidates the cached
// price of the symbol so the next computation sees a fresh one.
type OrderSyncService struct {
	orders   OrderStatusStore
	exchange OrderStatusFetcher
	prices   PriceInvalidator
	log      zerolog.Logger
}

// NewOrderSyncService creates a new order sync service. prices may be nil.
func NewOrderSyncService(
	orders OrderStatusStore,
	exchange OrderStatusFetcher,
	prices PriceInvalidator,
	log zerolog.Logger,
) *OrderSyncService {
	return &OrderSyncService{
		orders:   orders,
		exchange: exchange,
		prices:   prices,
		log:      log.With().Str("service", "order_sync").Logger(),
	}
}

// SyncOrders refreshes every active order of an account from the exchange
func (s *OrderSyncService) SyncOrders(ctx context.Context, accountID string) (SyncResult, error) {
	var result SyncResult

	active, err := s.orders.ListActive(ctx, accountID)
	if err != nil {
		return result, fmt.Errorf("failed to list active orders: %w", err)
	}

	for _, order := range active {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++

		report, err := s.exchange.GetOrderStatus(ctx, order.Symbol, order.ClientOrderID)
		if err != nil {
			result.Failed++
			s.log.Warn().
				Err(err).
				Str("client_order_id", order.ClientOrderID).
				Str("symbol", order.Symbol).
				Msg("Failed to query order status")
			if errors.Is(err, domain.ErrRateLimited) {
				return result, err
			}
			continue
		}

		if report.Status == order.Status && report.FilledQuantity.Equal(order.FilledQuantity) {
			continue
		}

		if err := s.orders.UpdateStatus(ctx, order.ClientOrderID, *report); err != nil {
			result.Failed++
			s.log.Error().
				Err(err).
				Str("client_order_id", order.ClientOrderID).
				Msg("Failed to update order status")
			continue
		}
		result.Updated++

		if report.FilledQuantity.GreaterThan(order.FilledQuantity) {
			result.Filled++
			if s.prices != nil {
				s.prices.Invalidate(order.Symbol)
			}
		}
		if !report.Status.IsActive() {
			result.Closed++
		}

		s.log.Info().
			Str("client_order_id", order.ClientOrderID).
			Str("symbol", order.Symbol).
			Str("from", string(order.Status)).
			Str("to", string(report.Status)).
			Str("filled", report.FilledQuantity.String()).
			Msg("Order status changed")
	}

	s.log.Debug().
		Str("account_id", accountID).
		Int("checked", result.Checked).
		Int("updated", result.Updated).
		Msg("Order sync completed")

	return result, nil
}
