package rebalancing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LeaseStore serializes auto ticks per account through expiring leases in the cache database
type LeaseStore struct {
	cacheDB *sql.DB
	now     func() time.Time
	log     zerolog.Logger
}

// NewLeaseStore creates a lease store
func NewLeaseStore(cacheDB *sql.DB, log zerolog.Logger) *LeaseStore {
	return &LeaseStore{
		cacheDB: cacheDB,
		now:     time.Now,
		log:     log.With().Str("repo", "tick_lease").Logger(),
	}
}

// Acquire takes the lease for key when it is free or expired. The returned token
// identifies the holder and is required to release the lease.
func (s *LeaseStore) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if ttl <= 0 {
		return "", false, fmt.Errorf("failed to acquire lease %s: ttl must be positive", key)
	}

	token := uuid.NewString()
	now := s.now().UnixMilli()

	res, err := s.cacheDB.ExecContext(ctx, `
		INSERT INTO tick_leases (lease_key, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(lease_key) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE tick_leases.expires_at <= excluded.acquired_at
	`, key, token, now, now+ttl.Milliseconds())
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if affected == 0 {
		s.log.Debug().Str("lease_key", key).Msg("Lease held by another holder")
		return "", false, nil
	}

	return token, true, nil
}

// Release gives the lease back. Only the current holder can release it.
func (s *LeaseStore) Release(ctx context.Context, key, token string) error {
	res, err := s.cacheDB.ExecContext(ctx,
		"DELETE FROM tick_leases WHERE lease_key = ? AND holder = ?", key, token)
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", key, err)
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		s.log.Warn().Str("lease_key", key).Msg("Lease was no longer held at release")
	}
	return nil
}

// PurgeExpired deletes leases whose holder never released them
func (s *LeaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.cacheDB.ExecContext(ctx,
		"DELETE FROM tick_leases WHERE expires_at <= ?", s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired leases: %w", err)
	}
	return res.RowsAffected()
}
