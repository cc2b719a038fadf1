package rebalancing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/trading"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// PriceSnapshotter resolves every price one computation needs at once
type PriceSnapshotter interface {
	Snapshot(ctx context.Context, symbols []string) (domain.PriceSnapshot, error)
}

// OrderStore is the order ledger seen by the orchestrator
type OrderStore interface {
	domain.ActiveOrderLookup
	Exists(ctx context.Context, clientOrderID string) (bool, error)
	Create(ctx context.Context, order domain.Order) error
	UpdateStatus(ctx context.Context, clientOrderID string, report domain.OrderStatusReport) error
}

// DecisionRecorder appends auto tick audit records
type DecisionRecorder interface {
	Record(ctx context.Context, entry domain.DecisionLogEntry) (string, error)
}

// TickLeaser serializes auto ticks per account
type TickLeaser interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// Config tunes the orchestrator
type Config struct {
	TickPeriod           time.Duration // Auto tick bucket, also the client order id epoch
	LeaseTTL             time.Duration // Must cover at least one tick period
	SubmitMaxTries       uint
	SubmitInitialBackoff time.Duration
	SubmitMaxElapsed     time.Duration
}

// Dependencies groups the collaborators of the orchestrator
type Dependencies struct {
	Strategies domain.StrategyStore
	Balances   domain.BalanceProvider
	Prices     PriceSnapshotter
	Exchange   domain.ExchangeAdapter
	Orders     OrderStore
	Decisions  DecisionRecorder
	Accounts   domain.AccountProvider
	Leases     TickLeaser
}

// PlanResult is the outcome of one computation
type PlanResult struct {
	ComputedAt time.Time       `json:"computed_at"`
	AccountID  string          `json:"account_id"`
	Actions    []domain.Action `json:"actions"`
	Summary    Summary         `json:"summary"`
	NAV        float64         `json:"nav"`
	TickEpoch  int64           `json:"tick_epoch"`
}

// ExecutionResult is the outcome of an Execute or Tick invocation
type ExecutionResult struct {
	PlanResult
	DecisionID  string                    `json:"decision_id,omitempty"`
	State       string                    `json:"state"`
	Reason      string                    `json:"reason,omitempty"`
	Submissions []domain.SubmissionResult `json:"submissions"`
}

// Service is the execution orchestrator. It gathers the inputs of the decision
// engine, and for Execute and Tick submits the resulting orders one at a time.
type Service struct {
	deps Dependencies
	cfg  Config
	now  func() time.Time
	log  zerolog.Logger
}

// NewService creates a new rebalancing service
func NewService(deps Dependencies, cfg Config, log zerolog.Logger) *Service {
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = 30 * time.Second
	}
	if cfg.LeaseTTL < cfg.TickPeriod {
		cfg.LeaseTTL = 2 * cfg.TickPeriod
	}
	if cfg.SubmitMaxTries == 0 {
		cfg.SubmitMaxTries = 4
	}
	if cfg.SubmitInitialBackoff <= 0 {
		cfg.SubmitInitialBackoff = 500 * time.Millisecond
	}
	if cfg.SubmitMaxElapsed <= 0 {
		cfg.SubmitMaxElapsed = 20 * time.Second
	}

	return &Service{
		deps: deps,
		cfg:  cfg,
		now:  time.Now,
		log:  log.With().Str("service", "rebalancing").Logger(),
	}
}

// Plan computes the actions for an account without submitting or persisting anything
func (s *Service) Plan(ctx context.Context, accountID string) (*PlanResult, error) {
	strategy, err := s.loadStrategy(ctx, accountID)
	if err != nil {
		return nil, err
	}

	userID := ""
	if account, err := s.deps.Accounts.GetActiveAccount(ctx, accountID); err == nil && account != nil {
		userID = account.UserID
	}

	return s.compute(ctx, strategy, userID, trading.ManualEpoch(s.now()))
}

// Execute recomputes from fresh inputs and submits the resulting orders.
// It is refused while auto trading is enabled for the account.
func (s *Service) Execute(ctx context.Context, accountID string) (*ExecutionResult, error) {
	strategy, err := s.loadStrategy(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if strategy.AutoTradeEnabled {
		return nil, domain.NewError(domain.CodeAutoTradeEnabled,
			"manual execution is disabled while auto trading is enabled for %s", accountID)
	}

	account, err := s.activeAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	plan, err := s.compute(ctx, strategy, account.UserID, trading.ManualEpoch(s.now()))
	if err != nil {
		return nil, err
	}

	result := &ExecutionResult{PlanResult: *plan}
	submissions, err := s.submit(ctx, accountID, plan, domain.OrderSourceManual)
	result.Submissions = submissions
	result.State = executionState(submissions, err)

	s.log.Info().
		Str("account_id", accountID).
		Int64("epoch", plan.TickEpoch).
		Str("state", result.State).
		Int("submissions", len(submissions)).
		Msg("Manual execution finished")

	return result, err
}

// Tick is one unattended auto trading pass for an account. Exactly one decision
// log entry is written per call, skipped and rejected passes included.
// Skipped passes are not errors.
func (s *Service) Tick(ctx context.Context, accountID string) (*ExecutionResult, error) {
	now := s.now()
	epoch := trading.TickEpoch(now, s.cfg.TickPeriod)

	result := &ExecutionResult{
		PlanResult: PlanResult{AccountID: accountID, TickEpoch: epoch, ComputedAt: now},
		State:      domain.DecisionSkipped,
	}

	err := s.tick(ctx, accountID, result)
	s.recordDecision(ctx, result, now)

	l := s.log.Info()
	if result.State != domain.DecisionRecorded {
		l = s.log.Warn()
	}
	l.Str("account_id", accountID).
		Int64("epoch", epoch).
		Str("state", result.State).
		Str("reason", result.Reason).
		Str("decision_id", result.DecisionID).
		Msg("Auto tick finished")

	return result, err
}

func (s *Service) tick(ctx context.Context, accountID string, result *ExecutionResult) error {
	strategy, err := s.deps.Strategies.GetActiveStrategy(ctx, accountID)
	if err != nil {
		result.Reason = fmt.Sprintf("strategy lookup failed: %v", err)
		return fmt.Errorf("failed to load strategy: %w", err)
	}
	if strategy == nil {
		result.Reason = "no strategy configured"
		return nil
	}
	if err := strategy.Validate(); err != nil {
		result.State = domain.DecisionRejected
		result.Reason = err.Error()
		return nil
	}
	if !strategy.IsActive {
		result.Reason = "strategy not active"
		return nil
	}
	if !strategy.AutoTradeEnabled {
		result.Reason = "auto trading disabled"
		return nil
	}

	account, err := s.deps.Accounts.GetActiveAccount(ctx, accountID)
	if err != nil {
		result.Reason = fmt.Sprintf("account lookup failed: %v", err)
		return fmt.Errorf("failed to resolve account: %w", err)
	}
	if account == nil || !account.Active {
		result.Reason = "no active exchange account"
		return nil
	}

	token, acquired, err := s.deps.Leases.Acquire(ctx, accountID, s.cfg.LeaseTTL)
	if err != nil {
		result.Reason = fmt.Sprintf("lease unavailable: %v", err)
		return err
	}
	if !acquired {
		result.Reason = "lease held by another tick"
		return nil
	}
	defer func() {
		// The pass may have been cancelled; the lease still has to go back
		if err := s.deps.Leases.Release(context.WithoutCancel(ctx), accountID, token); err != nil {
			s.log.Warn().Err(err).Str("account_id", accountID).Msg("Failed to release tick lease")
		}
	}()

	plan, err := s.compute(ctx, strategy, account.UserID, result.TickEpoch)
	if err != nil {
		if errors.Is(err, domain.ErrPricingUnavailable) {
			result.Reason = "pricing unavailable: " + strings.Join(domain.MissingSymbols(err), ", ")
			return nil
		}
		result.State = domain.DecisionRejected
		result.Reason = err.Error()
		return err
	}
	result.PlanResult = *plan

	submissions, err := s.submit(ctx, accountID, plan, domain.OrderSourceAuto)
	result.Submissions = submissions
	result.State = executionState(submissions, err)
	if err != nil {
		result.Reason = err.Error()
	}
	return err
}

func (s *Service) recordDecision(ctx context.Context, result *ExecutionResult, at time.Time) {
	entry := domain.DecisionLogEntry{
		CreatedAt:   at,
		AccountID:   result.AccountID,
		State:       result.State,
		Reason:      result.Reason,
		Actions:     result.Actions,
		Submissions: result.Submissions,
		TickEpoch:   result.TickEpoch,
		NAV:         result.NAV,
	}

	id, err := s.deps.Decisions.Record(context.WithoutCancel(ctx), entry)
	if err != nil {
		s.log.Error().Err(err).Str("account_id", result.AccountID).Msg("Failed to record decision")
		return
	}
	result.DecisionID = id
}

// loadStrategy returns the validated, active strategy of an account
func (s *Service) loadStrategy(ctx context.Context, accountID string) (*domain.StrategyConfig, error) {
	strategy, err := s.deps.Strategies.GetActiveStrategy(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load strategy: %w", err)
	}
	if strategy == nil {
		return nil, domain.NewError(domain.CodeStrategyNotFound, "no strategy for account %s", accountID)
	}
	if err := strategy.Validate(); err != nil {
		return nil, err
	}
	if !strategy.IsActive {
		return nil, domain.NewError(domain.CodeStrategyNotActive, "strategy of %s is not active", accountID)
	}
	return strategy, nil
}

func (s *Service) activeAccount(ctx context.Context, accountID string) (*domain.ExchangeAccount, error) {
	account, err := s.deps.Accounts.GetActiveAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account: %w", err)
	}
	if account == nil || !account.Active {
		return nil, domain.NewError(domain.CodeNoActiveAccount, "no active exchange account for %s", accountID)
	}
	return account, nil
}

// compute snapshots balances, prices, active orders and filters, then runs the engine
func (s *Service) compute(ctx context.Context, strategy *domain.StrategyConfig, userID string, epoch int64) (*PlanResult, error) {
	computedAt := s.now()
	accountID := strategy.AccountID

	balances, err := s.deps.Balances.GetBalances(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}

	symbols := strategy.PricedSymbols()
	prices, err := s.deps.Prices.Snapshot(ctx, symbols)
	if err != nil {
		return nil, err
	}

	activeOrders := make(map[string]domain.ActiveOrder)
	filters := make(map[string]domain.SymbolFilters, len(symbols))
	for _, alloc := range strategy.Allocations {
		symbol := strategy.Symbol(alloc.Asset)
		if symbol == "" {
			continue
		}

		order, err := s.deps.Orders.GetActiveOrder(ctx, accountID, symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to get active order for %s: %w", symbol, err)
		}
		if order != nil {
			activeOrders[alloc.Asset] = order.ToActiveOrder()
		}

		f, err := s.deps.Exchange.GetSymbolFilters(ctx, symbol)
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				return nil, err
			}
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Symbol filters unavailable")
			continue
		}
		filters[symbol] = f
	}

	actions, err := ComputeActions(EngineInput{
		Strategy:     strategy,
		Prices:       prices,
		ActiveOrders: activeOrders,
		Filters:      filters,
		UserID:       userID,
		Balances:     balances,
		TickEpoch:    epoch,
	})
	if err != nil {
		return nil, err
	}

	return &PlanResult{
		ComputedAt: computedAt,
		AccountID:  accountID,
		Actions:    actions,
		Summary:    Summarize(actions),
		NAV:        ComputeNAV(strategy, holdingsByAsset(balances), prices),
		TickEpoch:  epoch,
	}, nil
}

// submit sends every buy and sell action in order. A rate limit that survives
// the retries aborts the rest of the batch and is returned as the error.
func (s *Service) submit(ctx context.Context, accountID string, plan *PlanResult, source string) ([]domain.SubmissionResult, error) {
	results := []domain.SubmissionResult{}
	var batchErr error

	for _, action := range plan.Actions {
		if !action.Side.IsOrder() {
			continue
		}

		result := domain.SubmissionResult{
			ClientOrderID: action.ClientOrderID,
			Symbol:        action.Symbol,
			Side:          action.Side,
		}

		if batchErr != nil {
			result.Status = domain.SubmissionNotAttempted
			results = append(results, result)
			continue
		}

		if err := s.submitOne(ctx, accountID, plan.TickEpoch, action, source, &result); err != nil {
			batchErr = err
		}
		results = append(results, result)
	}

	return results, batchErr
}

// submitOne fills in result and returns an error only when the batch must stop
func (s *Service) submitOne(ctx context.Context, accountID string, epoch int64, action domain.Action, source string, result *domain.SubmissionResult) error {
	log := s.log.With().
		Str("account_id", accountID).
		Str("symbol", action.Symbol).
		Str("side", string(action.Side)).
		Str("client_order_id", action.ClientOrderID).
		Logger()

	exists, err := s.deps.Orders.Exists(ctx, action.ClientOrderID)
	if err != nil {
		result.Status = domain.SubmissionFailed
		result.Error = err.Error()
		return nil
	}
	if exists {
		result.Status = domain.SubmissionDuplicate
		log.Info().Msg("Order already submitted, skipping")
		return nil
	}

	if action.CancelOrderID != "" {
		if stop := s.cancelPrevious(ctx, action, result, log); stop != nil || result.Status != "" {
			return stop
		}
	}

	exchangeOrderID, err := s.placeWithRetry(ctx, domain.OrderRequest{
		Symbol:        action.Symbol,
		Side:          action.Side,
		ClientOrderID: action.ClientOrderID,
		LimitPrice:    action.LimitPrice,
		Quantity:      action.BaseQuantity,
	})

	switch {
	case err == nil:
		result.Status = domain.SubmissionSubmitted
		result.ExchangeOrderID = exchangeOrderID
	case errors.Is(err, domain.ErrDuplicateOrder):
		// The exchange already has this client order id from an earlier attempt
		result.Status = domain.SubmissionDuplicate
	case errors.Is(err, domain.ErrRateLimited):
		result.Status = domain.SubmissionRateLimited
		result.Error = err.Error()
		log.Warn().Err(err).Msg("Rate limited, aborting remaining submissions")
		return err
	case errors.Is(err, domain.ErrExchangeRejected):
		result.Status = domain.SubmissionRejected
		result.Error = err.Error()
		log.Warn().Err(err).Msg("Order rejected by exchange")
		return nil
	default:
		result.Status = domain.SubmissionFailed
		result.Error = err.Error()
		log.Error().Err(err).Msg("Order submission failed")
		return nil
	}

	order := domain.Order{
		ClientOrderID:   action.ClientOrderID,
		AccountID:       accountID,
		Symbol:          action.Symbol,
		Asset:           action.Asset,
		Side:            action.Side,
		ExchangeOrderID: exchangeOrderID,
		Status:          domain.OrderStatusNew,
		Source:          source,
		LimitPrice:      action.LimitPrice,
		BaseQuantity:    action.BaseQuantity,
		TickEpoch:       epoch,
	}
	if err := s.deps.Orders.Create(ctx, order); err != nil {
		// The order is live on the exchange; the sync job will find it missing locally
		log.Error().Err(err).Msg("Failed to record submitted order")
	}

	log.Info().
		Str("exchange_order_id", exchangeOrderID).
		Str("limit_price", action.LimitPrice.String()).
		Str("quantity", action.BaseQuantity.String()).
		Msg("Order submitted")
	return nil
}

// cancelPrevious cancels the opposite-side order an action replaces. It sets
// result.Status when the action itself must not be placed.
func (s *Service) cancelPrevious(ctx context.Context, action domain.Action, result *domain.SubmissionResult, log zerolog.Logger) error {
	_, err := withRetry(ctx, s.cfg, func() (struct{}, error) {
		return struct{}{}, s.deps.Exchange.CancelOrder(ctx, action.Symbol, action.CancelOrderID)
	})

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrExchangeRejected):
		// Unknown order: it was filled or canceled in the meantime
		log.Info().Err(err).Str("cancel_order_id", action.CancelOrderID).Msg("Previous order already gone")
	case errors.Is(err, domain.ErrRateLimited):
		result.Status = domain.SubmissionRateLimited
		result.Error = err.Error()
		return err
	default:
		result.Status = domain.SubmissionFailed
		result.Error = fmt.Sprintf("cancel %s: %v", action.CancelOrderID, err)
		log.Error().Err(err).Str("cancel_order_id", action.CancelOrderID).Msg("Failed to cancel previous order")
		return nil
	}

	result.CanceledOrderID = action.CancelOrderID
	report := domain.OrderStatusReport{ClientOrderID: action.CancelOrderID, Status: domain.OrderStatusCanceled}
	if err := s.deps.Orders.UpdateStatus(ctx, action.CancelOrderID, report); err != nil {
		log.Warn().Err(err).Str("cancel_order_id", action.CancelOrderID).Msg("Failed to mark previous order canceled")
	}
	return nil
}

func (s *Service) placeWithRetry(ctx context.Context, req domain.OrderRequest) (string, error) {
	return withRetry(ctx, s.cfg, func() (string, error) {
		return s.deps.Exchange.PlaceOrder(ctx, req)
	})
}

// withRetry retries an exchange call only while it is rate limited
func withRetry[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.SubmitInitialBackoff

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, domain.ErrRateLimited) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.SubmitMaxTries),
		backoff.WithMaxElapsedTime(cfg.SubmitMaxElapsed),
	)
}

// executionState is rejected when nothing actionable went through or the batch was cut short
func executionState(submissions []domain.SubmissionResult, batchErr error) string {
	if batchErr != nil {
		return domain.DecisionRejected
	}
	if len(submissions) == 0 {
		return domain.DecisionRecorded
	}
	for _, sub := range submissions {
		if sub.Status == domain.SubmissionSubmitted || sub.Status == domain.SubmissionDuplicate {
			return domain.DecisionRecorded
		}
	}
	return domain.DecisionRejected
}
