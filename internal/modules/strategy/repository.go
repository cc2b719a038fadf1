// Package strategy stores the rebalancing configuration of each exchange account.
package strategy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// Repository handles strategy persistence in config.db.
// One row per account; allocations are kept as a JSON array in allocation order.
type Repository struct {
	configDB *sql.DB
	now      func() time.Time
	log      zerolog.Logger
}

// Compile-time check that Repository implements domain.StrategyStore
var _ domain.StrategyStore = (*Repository)(nil)

// NewRepository creates a new strategy repository
func NewRepository(configDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		configDB: configDB,
		now:      time.Now,
		log:      log.With().Str("repo", "strategy").Logger(),
	}
}

// GetActiveStrategy returns the stored strategy of an account, nil when there is none.
// Inactive strategies are returned as well; callers check IsActive.
func (r *Repository) GetActiveStrategy(ctx context.Context, accountID string) (*domain.StrategyConfig, error) {
	row := r.configDB.QueryRowContext(ctx, `
		SELECT account_id, quote_asset, allocations, order_size_pct, order_step_pct,
			min_delta_quote, min_delta_pct, switch_cancel_buffer_pct, is_active,
			auto_trade_enabled, updated_at
		FROM strategies
		WHERE account_id = ?
	`, accountID)

	var (
		cfg              domain.StrategyConfig
		allocations      string
		isActive, auto   int
		updatedAtSeconds int64
	)
	err := row.Scan(
		&cfg.AccountID, &cfg.QuoteAsset, &allocations, &cfg.OrderSizePct, &cfg.OrderStepPct,
		&cfg.MinDeltaQuote, &cfg.MinDeltaPct, &cfg.SwitchCancelBufferPct, &isActive,
		&auto, &updatedAtSeconds,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get strategy for %s: %w", accountID, err)
	}

	if err := json.Unmarshal([]byte(allocations), &cfg.Allocations); err != nil {
		return nil, fmt.Errorf("failed to decode allocations of %s: %w", accountID, err)
	}
	cfg.IsActive = isActive != 0
	cfg.AutoTradeEnabled = auto != 0
	cfg.UpdatedAt = time.Unix(updatedAtSeconds, 0).UTC()

	return &cfg, nil
}

// Upsert validates and stores the strategy of an account, replacing any previous one
func (r *Repository) Upsert(ctx context.Context, cfg domain.StrategyConfig) (*domain.StrategyConfig, error) {
	validated, err := domain.NewStrategyConfig(cfg)
	if err != nil {
		return nil, err
	}

	allocations, err := json.Marshal(validated.Allocations)
	if err != nil {
		return nil, fmt.Errorf("failed to encode allocations: %w", err)
	}

	validated.UpdatedAt = r.now().UTC().Truncate(time.Second)

	_, err = r.configDB.ExecContext(ctx, `
		INSERT INTO strategies (
			account_id, quote_asset, allocations, order_size_pct, order_step_pct,
			min_delta_quote, min_delta_pct, switch_cancel_buffer_pct, is_active,
			auto_trade_enabled, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			quote_asset = excluded.quote_asset,
			allocations = excluded.allocations,
			order_size_pct = excluded.order_size_pct,
			order_step_pct = excluded.order_step_pct,
			min_delta_quote = excluded.min_delta_quote,
			min_delta_pct = excluded.min_delta_pct,
			switch_cancel_buffer_pct = excluded.switch_cancel_buffer_pct,
			is_active = excluded.is_active,
			auto_trade_enabled = excluded.auto_trade_enabled,
			updated_at = excluded.updated_at
	`,
		validated.AccountID, validated.QuoteAsset, string(allocations), validated.OrderSizePct,
		validated.OrderStepPct, validated.MinDeltaQuote, validated.MinDeltaPct,
		validated.SwitchCancelBufferPct, boolToInt(validated.IsActive),
		boolToInt(validated.AutoTradeEnabled), validated.UpdatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store strategy for %s: %w", validated.AccountID, err)
	}

	r.log.Info().
		Str("account_id", validated.AccountID).
		Int("allocations", len(validated.Allocations)).
		Bool("is_active", validated.IsActive).
		Bool("auto_trade_enabled", validated.AutoTradeEnabled).
		Msg("Strategy stored")

	return validated, nil
}

// ListAutoTradeAccounts returns the accounts whose strategy is active with auto trading on
func (r *Repository) ListAutoTradeAccounts(ctx context.Context) ([]string, error) {
	rows, err := r.configDB.QueryContext(ctx, `
		SELECT account_id FROM strategies
		WHERE auto_trade_enabled = 1 AND is_active = 1
		ORDER BY account_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto trade accounts: %w", err)
	}
	defer rows.Close()

	accounts := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		accounts = append(accounts, id)
	}
	return accounts, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
