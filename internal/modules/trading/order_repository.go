package trading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// OrderRepository persists submitted orders in the ledger database.
// The client order id is the primary key, so recording the same submission twice is a no-op.
type OrderRepository struct {
	ledgerDB *sql.DB
	now      func() time.Time
	log      zerolog.Logger
}

// ordersColumns must match scanOrder
const ordersColumns = `client_order_id, account_id, symbol, asset, side, limit_price, base_quantity,
	filled_quantity, exchange_order_id, status, source, tick_epoch, created_at, updated_at`

// NewOrderRepository creates a new order repository
func NewOrderRepository(ledgerDB *sql.DB, log zerolog.Logger) *OrderRepository {
	return &OrderRepository{
		ledgerDB: ledgerDB,
		now:      time.Now,
		log:      log.With().Str("repo", "order").Logger(),
	}
}

// Create inserts an order record, skipping it when the client order id is already known
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) error {
	if order.ClientOrderID == "" {
		return fmt.Errorf("failed to create order: client_order_id is required")
	}
	if !order.Side.IsOrder() {
		return fmt.Errorf("failed to create order: invalid side %q", order.Side)
	}

	now := r.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusNew
	}

	query := `
		INSERT INTO orders (` + ordersColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_order_id) DO NOTHING
	`

	res, err := r.ledgerDB.ExecContext(ctx, query,
		order.ClientOrderID,
		order.AccountID,
		strings.ToUpper(order.Symbol),
		strings.ToUpper(order.Asset),
		string(order.Side),
		order.LimitPrice.String(),
		order.BaseQuantity.String(),
		order.FilledQuantity.String(),
		order.ExchangeOrderID,
		string(order.Status),
		order.Source,
		order.TickEpoch,
		order.CreatedAt.Unix(),
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		r.log.Debug().
			Str("client_order_id", order.ClientOrderID).
			Msg("Order already recorded, skipping duplicate")
		return nil
	}

	r.log.Info().
		Str("client_order_id", order.ClientOrderID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("quantity", order.BaseQuantity.String()).
		Str("price", order.LimitPrice.String()).
		Msg("Order recorded")

	return nil
}

// Exists checks if an order with the given client order id was already recorded
func (r *OrderRepository) Exists(ctx context.Context, clientOrderID string) (bool, error) {
	var exists int
	err := r.ledgerDB.QueryRowContext(ctx,
		"SELECT 1 FROM orders WHERE client_order_id = ? LIMIT 1", clientOrderID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check order existence: %w", err)
	}
	return true, nil
}

// GetByClientOrderID retrieves an order, nil when unknown
func (r *OrderRepository) GetByClientOrderID(ctx context.Context, clientOrderID string) (*domain.Order, error) {
	row := r.ledgerDB.QueryRowContext(ctx,
		"SELECT "+ordersColumns+" FROM orders WHERE client_order_id = ?", clientOrderID)

	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", clientOrderID, err)
	}
	return &order, nil
}

// GetActiveOrder returns the most recent outstanding order of an account for a symbol
func (r *OrderRepository) GetActiveOrder(ctx context.Context, accountID, symbol string) (*domain.Order, error) {
	query := `
		SELECT ` + ordersColumns + ` FROM orders
		WHERE account_id = ? AND symbol = ? AND status IN (?, ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`

	row := r.ledgerDB.QueryRowContext(ctx, query,
		accountID, strings.ToUpper(symbol),
		string(domain.OrderStatusNew), string(domain.OrderStatusPartiallyFilled))

	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active order for %s: %w", symbol, err)
	}
	return &order, nil
}

// ListActive returns every outstanding order of an account, oldest first
func (r *OrderRepository) ListActive(ctx context.Context, accountID string) ([]domain.Order, error) {
	query := `
		SELECT ` + ordersColumns + ` FROM orders
		WHERE account_id = ? AND status IN (?, ?)
		ORDER BY created_at ASC, rowid ASC
	`
	return r.queryOrders(ctx, query, accountID,
		string(domain.OrderStatusNew), string(domain.OrderStatusPartiallyFilled))
}

// List returns the most recent orders of an account, optionally filtered by status
func (r *OrderRepository) List(ctx context.Context, accountID string, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 50
	}

	if status == "" {
		query := `
			SELECT ` + ordersColumns + ` FROM orders
			WHERE account_id = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		`
		return r.queryOrders(ctx, query, accountID, limit)
	}

	query := `
		SELECT ` + ordersColumns + ` FROM orders
		WHERE account_id = ? AND status = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	return r.queryOrders(ctx, query, accountID, string(status), limit)
}

// UpdateStatus records the exchange-side state of an order
func (r *OrderRepository) UpdateStatus(ctx context.Context, clientOrderID string, report domain.OrderStatusReport) error {
	query := `
		UPDATE orders
		SET status = ?, filled_quantity = ?,
			exchange_order_id = CASE WHEN ? != '' THEN ? ELSE exchange_order_id END,
			updated_at = ?
		WHERE client_order_id = ?
	`

	res, err := r.ledgerDB.ExecContext(ctx, query,
		string(report.Status),
		report.FilledQuantity.String(),
		report.ExchangeOrderID, report.ExchangeOrderID,
		r.now().Unix(),
		clientOrderID,
	)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", clientOrderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update order %s: not found", clientOrderID)
	}
	return nil
}

func (r *OrderRepository) queryOrders(ctx context.Context, query string, args ...interface{}) ([]domain.Order, error) {
	rows, err := r.ledgerDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o                              domain.Order
		side, status                   string
		limitPrice, baseQty, filledQty string
		createdAt, updatedAt           int64
	)

	err := row.Scan(
		&o.ClientOrderID, &o.AccountID, &o.Symbol, &o.Asset, &side,
		&limitPrice, &baseQty, &filledQty,
		&o.ExchangeOrderID, &status, &o.Source, &o.TickEpoch,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Side = domain.Side(side)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = time.Unix(createdAt, 0).UTC()
	o.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if o.LimitPrice, err = decimal.NewFromString(limitPrice); err != nil {
		return domain.Order{}, fmt.Errorf("invalid limit_price %q: %w", limitPrice, err)
	}
	if o.BaseQuantity, err = decimal.NewFromString(baseQty); err != nil {
		return domain.Order{}, fmt.Errorf("invalid base_quantity %q: %w", baseQty, err)
	}
	if o.FilledQuantity, err = decimal.NewFromString(filledQty); err != nil {
		return domain.Order{}, fmt.Errorf("invalid filled_quantity %q: %w", filledQty, err)
	}

	return o, nil
}
