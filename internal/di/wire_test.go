package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStrategies = `
strategies:
  - account_id: acct-1
    quote_asset: USDT
    allocations:
      - asset: BTC
        target_percentage: 50
      - asset: USDT
        target_percentage: 50
    order_size_pct: 2
    is_active: true
    auto_trade_enabled: true
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir: t.TempDir(),
		Port:    8001,
		Pricing: config.PricingConfig{
			Source:         config.PriceSourceLast,
			UseCache:       true,
			CacheTTL:       10 * time.Second,
			MaxConcurrency: 2,
		},
		Binance: config.BinanceConfig{
			BaseURL:   "http://127.0.0.1:1",
			StreamURL: "ws://127.0.0.1:1",
		},
		Account: config.AccountConfig{
			ID:       "acct-1",
			UserID:   "user-1",
			Exchange: "binance",
		},
		Scheduler: config.SchedulerConfig{
			AutoTickInterval:  30 * time.Second,
			TickLeaseTTL:      60 * time.Second,
			OrderSyncSchedule: "@every 1m",
			LeaseCleanup:      "0 */10 * * * *",
		},
		Trading: config.TradingConfig{SubmitMaxTries: 2},
	}
}

func TestInitializeDatabases(t *testing.T) {
	cfg := testConfig(t)

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.ConfigDB)
	assert.NotNil(t, container.LedgerDB)
	assert.NotNil(t, container.CacheDB)
	assert.Len(t, container.Databases(), 3)

	assert.FileExists(t, filepath.Join(cfg.DataDir, "config.db"))
	assert.FileExists(t, filepath.Join(cfg.DataDir, "ledger.db"))
	assert.FileExists(t, filepath.Join(cfg.DataDir, "cache.db"))
}

func TestInitializeRepositories_RequiresDatabases(t *testing.T) {
	err := InitializeRepositories(&Container{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)
	cfg.Account.StrategiesFile = filepath.Join(cfg.DataDir, "strategies.yaml")
	require.NoError(t, os.WriteFile(cfg.Account.StrategiesFile, []byte(testStrategies), 0600))

	sched := scheduler.New(zerolog.Nop())
	container, jobs, err := Wire(context.Background(), cfg, sched, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.Binance)
	assert.Nil(t, container.BookFeed)
	assert.NotNil(t, container.PriceService)
	assert.NotNil(t, container.RebalanceService)
	assert.NotNil(t, container.OrderSyncService)
	assert.NotNil(t, container.PortfolioService)
	assert.Equal(t, []string{"acct-1"}, container.Accounts.AccountIDs())

	require.NotNil(t, jobs)
	assert.NotNil(t, jobs.AutoTick)
	assert.NotNil(t, jobs.OrderSync)
	assert.NotNil(t, jobs.Maintenance)

	seeded, err := container.StrategyRepo.GetActiveStrategy(context.Background(), "acct-1")
	require.NoError(t, err)
	require.NotNil(t, seeded)
	assert.True(t, seeded.AutoTradeEnabled)

	auto, err := container.StrategyRepo.ListAutoTradeAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"acct-1"}, auto)
}

func TestWire_BookFeedFollowsStrategySymbols(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pricing.Source = config.PriceSourceMid
	cfg.Binance.BookFeed = true
	cfg.Account.StrategiesFile = filepath.Join(cfg.DataDir, "strategies.yaml")
	require.NoError(t, os.WriteFile(cfg.Account.StrategiesFile, []byte(testStrategies), 0600))

	container, _, err := Wire(context.Background(), cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	require.NotNil(t, container.BookFeed)
	assert.False(t, container.BookFeed.Connected())
}

func TestWire_BadSeedFileFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Account.StrategiesFile = filepath.Join(cfg.DataDir, "missing.yaml")

	_, _, err := Wire(context.Background(), cfg, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestRegisterJobs_RejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.OrderSyncSchedule = "whenever"

	_, _, err := Wire(context.Background(), cfg, scheduler.New(zerolog.Nop()), zerolog.Nop())
	assert.Error(t, err)
}

func TestWire_BackupJobOnlyWithBucket(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup.Schedule = "0 0 3 * * *"

	container, jobs, err := Wire(context.Background(), cfg, scheduler.New(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()
	assert.Nil(t, container.BackupService)
	assert.Nil(t, jobs.Backup)

	cfg = testConfig(t)
	cfg.Backup = config.BackupConfig{
		S3Bucket:          "rebalancer-backups",
		S3Endpoint:        "http://127.0.0.1:1",
		S3AccessKeyID:     "key",
		S3SecretAccessKey: "secret",
		Schedule:          "0 0 3 * * *",
		RetentionDays:     7,
	}

	container, jobs, err = Wire(context.Background(), cfg, scheduler.New(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()
	assert.NotNil(t, container.BackupService)
	assert.NotNil(t, jobs.Backup)
}
