package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/trading"
	"github.com/rs/zerolog"
)

// OrderSyncer refreshes locally active orders from the exchange
type OrderSyncer interface {
	SyncOrders(ctx context.Context, accountID string) (trading.SyncResult, error)
}

// AccountSource lists the accounts served by this process
type AccountSource interface {
	AccountIDs() []string
}

// OrderSyncJob polls the exchange for the fill state of every active order
type OrderSyncJob struct {
	syncer   OrderSyncer
	accounts AccountSource
	log      zerolog.Logger
}

// NewOrderSyncJob creates a new OrderSyncJob
func NewOrderSyncJob(syncer OrderSyncer, accounts AccountSource, log zerolog.Logger) *OrderSyncJob {
	return &OrderSyncJob{
		syncer:   syncer,
		accounts: accounts,
		log:      log.With().Str("job", "order_sync").Logger(),
	}
}

// Name returns the job name
func (j *OrderSyncJob) Name() string {
	return "order_sync"
}

// Run syncs each account in turn. A rate limit stops the whole run.
func (j *OrderSyncJob) Run(ctx context.Context) error {
	var errs []error
	for _, accountID := range j.accounts.AccountIDs() {
		result, err := j.syncer.SyncOrders(ctx, accountID)
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				return err
			}
			errs = append(errs, fmt.Errorf("sync %s: %w", accountID, err))
			continue
		}
		if result.Updated > 0 {
			j.log.Info().
				Str("account_id", accountID).
				Int("updated", result.Updated).
				Int("filled", result.Filled).
				Int("closed", result.Closed).
				Msg("Orders synced")
		}
	}
	return errors.Join(errs...)
}
