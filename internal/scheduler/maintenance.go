package scheduler

import (
	"context"
	"fmt"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/rs/zerolog"
)

// LeasePurger drops expired tick leases
type LeasePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// PriceCachePurger drops stale cached prices
type PriceCachePurger interface {
	PurgeStale() int
}

// MaintenanceJob housekeeps the lease table, the price cache and the SQLite WAL files
type MaintenanceJob struct {
	leases    LeasePurger
	prices    PriceCachePurger
	databases []*database.DB
	log       zerolog.Logger
}

// NewMaintenanceJob creates a new MaintenanceJob. Nil databases are ignored.
func NewMaintenanceJob(leases LeasePurger, prices PriceCachePurger, databases []*database.DB, log zerolog.Logger) *MaintenanceJob {
	dbs := make([]*database.DB, 0, len(databases))
	for _, db := range databases {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return &MaintenanceJob{
		leases:    leases,
		prices:    prices,
		databases: dbs,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run(ctx context.Context) error {
	var purgedLeases int64
	if j.leases != nil {
		n, err := j.leases.PurgeExpired(ctx)
		if err != nil {
			return fmt.Errorf("failed to purge leases: %w", err)
		}
		purgedLeases = n
	}

	purgedPrices := 0
	if j.prices != nil {
		purgedPrices = j.prices.PurgeStale()
	}

	checkpointed := 0
	for _, db := range j.databases {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := db.QuickCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Database unreachable")
			continue
		}
		if err := db.WALCheckpoint("PASSIVE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			continue
		}
		checkpointed++
	}

	j.log.Debug().
		Int64("leases_purged", purgedLeases).
		Int("prices_purged", purgedPrices).
		Int("databases_checkpointed", checkpointed).
		Msg("Maintenance completed")

	return nil
}
