// Package di wires databases, clients, repositories, services and jobs.
package di

import (
	"github.com/aristath/rebalancer/internal/clients/binance"
	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/modules/accounts"
	"github.com/aristath/rebalancer/internal/modules/portfolio"
	"github.com/aristath/rebalancer/internal/modules/pricing"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/aristath/rebalancer/internal/modules/strategy"
	"github.com/aristath/rebalancer/internal/modules/trading"
	"github.com/aristath/rebalancer/internal/reliability"
	"github.com/aristath/rebalancer/internal/scheduler"
)

// Container holds every long-lived dependency of the process
type Container struct {
	// Databases
	ConfigDB *database.DB // strategies
	LedgerDB *database.DB // orders, decision log
	CacheDB  *database.DB // tick leases

	// Clients
	Binance  *binance.Client
	BookFeed *binance.BookFeed // nil unless mid prices are streamed

	// Repositories
	StrategyRepo *strategy.Repository
	OrderRepo    *trading.OrderRepository
	DecisionRepo *trading.DecisionLogRepository
	LeaseStore   *rebalancing.LeaseStore

	// Services
	Accounts         *accounts.StaticProvider
	PriceService     *pricing.Service
	RebalanceService *rebalancing.Service
	OrderSyncService *trading.OrderSyncService
	PortfolioService *portfolio.PortfolioService
	BackupService    *reliability.BackupService // nil unless a backup bucket is configured
}

// Databases returns the open databases in a stable order
func (c *Container) Databases() []*database.DB {
	dbs := make([]*database.DB, 0, 3)
	for _, db := range []*database.DB{c.ConfigDB, c.LedgerDB, c.CacheDB} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

// Close closes every open database
func (c *Container) Close() {
	for _, db := range c.Databases() {
		_ = db.Close()
	}
}

// JobInstances holds the registered background jobs
type JobInstances struct {
	AutoTick    *scheduler.AutoTickJob
	OrderSync   *scheduler.OrderSyncJob
	Maintenance *scheduler.MaintenanceJob
	Backup      *scheduler.BackupJob // nil when backups are off
}
