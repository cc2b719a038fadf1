package trading

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// DecisionLogRepository stores the audit trail of auto ticks.
// Entries are append-only. Actions and submissions are kept as msgpack blobs.
type DecisionLogRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewDecisionLogRepository creates a new decision log repository
func NewDecisionLogRepository(ledgerDB *sql.DB, log zerolog.Logger) *DecisionLogRepository {
	return &DecisionLogRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "decision_log").Logger(),
	}
}

// Record appends an entry, assigning an id when it has none. Returns the entry id.
func (r *DecisionLogRepository) Record(ctx context.Context, entry domain.DecisionLogEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	actions, err := msgpack.Marshal(entry.Actions)
	if err != nil {
		return "", fmt.Errorf("failed to encode actions: %w", err)
	}
	submissions, err := msgpack.Marshal(entry.Submissions)
	if err != nil {
		return "", fmt.Errorf("failed to encode submissions: %w", err)
	}

	_, err = r.ledgerDB.ExecContext(ctx, `
		INSERT INTO decision_log
		(id, account_id, tick_epoch, state, reason, nav, actions, submissions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.AccountID,
		entry.TickEpoch,
		entry.State,
		entry.Reason,
		entry.NAV,
		actions,
		submissions,
		entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record decision: %w", err)
	}

	r.log.Debug().
		Str("id", entry.ID).
		Str("account_id", entry.AccountID).
		Str("state", entry.State).
		Msg("Decision recorded")

	return entry.ID, nil
}

// ListRecent returns the latest entries of an account, newest first
func (r *DecisionLogRepository) ListRecent(ctx context.Context, accountID string, limit int) ([]domain.DecisionLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.ledgerDB.QueryContext(ctx, `
		SELECT id, account_id, tick_epoch, state, reason, nav, actions, submissions, created_at
		FROM decision_log
		WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision log: %w", err)
	}
	defer rows.Close()

	entries := []domain.DecisionLogEntry{}
	for rows.Next() {
		var (
			entry                domain.DecisionLogEntry
			actions, submissions []byte
			createdAt            int64
		)
		if err := rows.Scan(
			&entry.ID, &entry.AccountID, &entry.TickEpoch, &entry.State, &entry.Reason,
			&entry.NAV, &actions, &submissions, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}

		if len(actions) > 0 {
			if err := msgpack.Unmarshal(actions, &entry.Actions); err != nil {
				return nil, fmt.Errorf("failed to decode actions of %s: %w", entry.ID, err)
			}
		}
		if len(submissions) > 0 {
			if err := msgpack.Unmarshal(submissions, &entry.Submissions); err != nil {
				return nil, fmt.Errorf("failed to decode submissions of %s: %w", entry.ID, err)
			}
		}
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decision log: %w", err)
	}

	return entries, nil
}
