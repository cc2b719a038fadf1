package scheduler

import (
	"context"

	"github.com/rs/zerolog"
)

// Backuper ships database snapshots off-site
type Backuper interface {
	CreateAndUpload(ctx context.Context) (string, error)
	RotateOldBackups(ctx context.Context) (int, error)
}

// BackupJob uploads a backup, then rotates old ones
type BackupJob struct {
	backups Backuper
	log     zerolog.Logger
}

// NewBackupJob creates a new BackupJob
func NewBackupJob(backups Backuper, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backups: backups,
		log:     log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run executes the backup job. A failed rotation does not fail the run.
func (j *BackupJob) Run(ctx context.Context) error {
	if _, err := j.backups.CreateAndUpload(ctx); err != nil {
		return err
	}

	if _, err := j.backups.RotateOldBackups(ctx); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}
