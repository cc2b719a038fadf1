package di

import (
	"fmt"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/rs/zerolog"
)

type scheduledJob struct {
	spec string
	job  scheduler.Job
}

// RegisterJobs creates the background jobs and schedules them
func RegisterJobs(container *Container, sched *scheduler.Scheduler, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	jobs := &JobInstances{
		AutoTick: scheduler.NewAutoTickJob(
			container.RebalanceService,
			container.StrategyRepo,
			cfg.Pricing.MaxConcurrency,
			log,
		),
		OrderSync: scheduler.NewOrderSyncJob(
			container.OrderSyncService,
			container.Accounts,
			log,
		),
		Maintenance: scheduler.NewMaintenanceJob(
			container.LeaseStore,
			container.PriceService,
			container.Databases(),
			log,
		),
	}

	if container.BackupService != nil {
		jobs.Backup = scheduler.NewBackupJob(container.BackupService, log)
	}

	if sched == nil {
		return jobs, nil
	}

	schedules := []scheduledJob{
		{scheduler.EverySchedule(cfg.Scheduler.AutoTickInterval), jobs.AutoTick},
		{cfg.Scheduler.OrderSyncSchedule, jobs.OrderSync},
		{cfg.Scheduler.LeaseCleanup, jobs.Maintenance},
	}
	if jobs.Backup != nil {
		schedules = append(schedules, scheduledJob{cfg.Backup.Schedule, jobs.Backup})
	}
	for _, s := range schedules {
		if err := sched.AddJob(s.spec, s.job); err != nil {
			return nil, fmt.Errorf("failed to register %s job: %w", s.job.Name(), err)
		}
	}

	log.Info().Int("jobs", len(schedules)).Msg("Jobs registered")
	return jobs, nil
}
