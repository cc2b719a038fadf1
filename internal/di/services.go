package di

import (
	"context"
	"fmt"

	"github.com/aristath/rebalancer/internal/clients/binance"
	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/modules/accounts"
	"github.com/aristath/rebalancer/internal/modules/portfolio"
	"github.com/aristath/rebalancer/internal/modules/pricing"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/aristath/rebalancer/internal/modules/strategy"
	"github.com/aristath/rebalancer/internal/modules/trading"
	"github.com/aristath/rebalancer/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the repositories over the open databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container.ConfigDB == nil || container.LedgerDB == nil || container.CacheDB == nil {
		return fmt.Errorf("databases must be initialized before repositories")
	}

	container.StrategyRepo = strategy.NewRepository(container.ConfigDB.Conn(), log)
	container.OrderRepo = trading.NewOrderRepository(container.LedgerDB.Conn(), log)
	container.DecisionRepo = trading.NewDecisionLogRepository(container.LedgerDB.Conn(), log)
	container.LeaseStore = rebalancing.NewLeaseStore(container.CacheDB.Conn(), log)

	log.Info().Msg("Repositories initialized")
	return nil
}

// SeedStrategies loads the optional strategies file into the config database
func SeedStrategies(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if cfg.Account.StrategiesFile == "" {
		return nil
	}

	seeded, err := container.StrategyRepo.Seed(ctx, cfg.Account.StrategiesFile)
	if err != nil {
		return fmt.Errorf("failed to seed strategies: %w", err)
	}

	log.Info().
		Str("file", cfg.Account.StrategiesFile).
		Int("seeded", seeded).
		Msg("Strategies seeded")
	return nil
}

// InitializeServices creates the exchange client, the price service and the domain services
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.Binance = binance.New(binance.Config{
		APIKey:            cfg.Binance.APIKey,
		APISecret:         cfg.Binance.APISecret,
		BaseURL:           cfg.Binance.BaseURL,
		RecvWindow:        cfg.Binance.RecvWindow,
		RequestsPerSecond: cfg.Binance.RequestsPerSecond,
		FiltersTTL:        cfg.Binance.FiltersTTL,
	}, log)

	// The book feed only serves mid prices and needs to know its symbols up front
	var feed pricing.QuoteFeed
	if cfg.Binance.BookFeed && cfg.Pricing.Source == config.PriceSourceMid {
		symbols, err := feedSymbols(ctx, container, cfg)
		if err != nil {
			return err
		}
		if len(symbols) > 0 {
			container.BookFeed = binance.NewBookFeed(cfg.Binance.StreamURL, symbols, log)
			feed = container.BookFeed
		} else {
			log.Warn().Msg("Book feed enabled but no strategy symbols known, using last prices only")
		}
	}

	container.PriceService = pricing.NewService(container.Binance, feed, pricing.Config{
		Source:         cfg.Pricing.Source,
		UseCache:       cfg.Pricing.UseCache,
		TTL:            cfg.Pricing.CacheTTL,
		MaxConcurrency: cfg.Pricing.MaxConcurrency,
	}, log)

	container.Accounts = accounts.NewStaticProvider(cfg.Account.ID, cfg.Account.UserID, cfg.Account.Exchange)
	if len(container.Accounts.AccountIDs()) == 0 {
		log.Warn().Msg("No active exchange account configured, orders cannot be submitted")
	}

	container.RebalanceService = rebalancing.NewService(rebalancing.Dependencies{
		Strategies: container.StrategyRepo,
		Balances:   container.Binance,
		Prices:     container.PriceService,
		Exchange:   container.Binance,
		Orders:     container.OrderRepo,
		Decisions:  container.DecisionRepo,
		Accounts:   container.Accounts,
		Leases:     container.LeaseStore,
	}, rebalancing.Config{
		TickPeriod:           cfg.Scheduler.AutoTickInterval,
		LeaseTTL:             cfg.Scheduler.TickLeaseTTL,
		SubmitMaxTries:       cfg.Trading.SubmitMaxTries,
		SubmitInitialBackoff: cfg.Trading.SubmitInitialBackoff,
		SubmitMaxElapsed:     cfg.Trading.SubmitMaxElapsed,
	}, log)

	container.OrderSyncService = trading.NewOrderSyncService(container.OrderRepo, container.Binance, container.PriceService, log)

	container.PortfolioService = portfolio.NewPortfolioService(container.StrategyRepo, container.Binance, container.PriceService, log)

	if cfg.Backup.Enabled() {
		store, err := reliability.NewS3Client(ctx, reliability.S3Config{
			Endpoint:        cfg.Backup.S3Endpoint,
			Region:          cfg.Backup.S3Region,
			Bucket:          cfg.Backup.S3Bucket,
			AccessKeyID:     cfg.Backup.S3AccessKeyID,
			SecretAccessKey: cfg.Backup.S3SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("failed to create backup client: %w", err)
		}
		// The cache database only holds leases and is not worth keeping
		container.BackupService = reliability.NewBackupService(
			store,
			[]*database.DB{container.ConfigDB, container.LedgerDB},
			cfg.DataDir,
			cfg.Backup.RetentionDays,
			log,
		)
	}

	log.Info().Msg("Services initialized")
	return nil
}

// feedSymbols returns the priced symbols of the configured account's strategy
func feedSymbols(ctx context.Context, container *Container, cfg *config.Config) ([]string, error) {
	if cfg.Account.ID == "" {
		return nil, nil
	}
	active, err := container.StrategyRepo.GetActiveStrategy(ctx, cfg.Account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load strategy for book feed: %w", err)
	}
	if active == nil {
		return nil, nil
	}
	return active.PricedSymbols(), nil
}
