package scheduler

import (
	"context"
	"fmt"

	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Ticker runs one auto trading pass for an account
type Ticker interface {
	Tick(ctx context.Context, accountID string) (*rebalancing.ExecutionResult, error)
}

// AutoTradeLister lists the accounts with auto trading switched on
type AutoTradeLister interface {
	ListAutoTradeAccounts(ctx context.Context) ([]string, error)
}

// AutoTickJob ticks every auto trading account. Accounts run in parallel;
// ticks of one account are serialized by the tick lease.
type AutoTickJob struct {
	ticker      Ticker
	accounts    AutoTradeLister
	concurrency int
	log         zerolog.Logger
}

// NewAutoTickJob creates a new AutoTickJob
func NewAutoTickJob(ticker Ticker, accounts AutoTradeLister, concurrency int, log zerolog.Logger) *AutoTickJob {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &AutoTickJob{
		ticker:      ticker,
		accounts:    accounts,
		concurrency: concurrency,
		log:         log.With().Str("job", "auto_tick").Logger(),
	}
}

// Name returns the job name
func (j *AutoTickJob) Name() string {
	return "auto_tick"
}

// Run ticks every auto trading account once
func (j *AutoTickJob) Run(ctx context.Context) error {
	accountIDs, err := j.accounts.ListAutoTradeAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list auto trade accounts: %w", err)
	}
	if len(accountIDs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)

	failed := make([]error, len(accountIDs))
	for i, accountID := range accountIDs {
		g.Go(func() error {
			result, err := j.ticker.Tick(gctx, accountID)
			if err != nil {
				failed[i] = fmt.Errorf("tick %s: %w", accountID, err)
				return nil
			}
			j.log.Debug().
				Str("account_id", accountID).
				Str("state", result.State).
				Str("decision_id", result.DecisionID).
				Msg("Account ticked")
			return nil
		})
	}
	_ = g.Wait()

	// One failing account must not stop the others; report the first failure
	for _, err := range failed {
		if err != nil {
			return err
		}
	}
	return nil
}
