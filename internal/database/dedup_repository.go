package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// DedupRepository mirrors alert dedup decisions into durable storage so
// suppression history survives restarts and is auditable.
type DedupRepository struct {
	db *sqlx.DB
}

// NewDedupRepository creates a dedup repository.
func NewDedupRepository(db *sqlx.DB) *DedupRepository {
	return &DedupRepository{db: db}
}

// RecordAlerted stores that an alert for (contract, violation type) was
// dispatched at the given time.
func (r *DedupRepository) RecordAlerted(ctx context.Context, contractName, violationType string, at time.Time) error {
	query := `
		INSERT INTO alert_dedup_state (contract_name, violation_type, alerted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (contract_name, violation_type) DO UPDATE SET
			alerted_at = EXCLUDED.alerted_at`

	if _, err := r.db.ExecContext(ctx, query, contractName, violationType, at); err != nil {
		return fmt.Errorf("failed to record dedup state for %s/%s: %w", contractName, violationType, err)
	}
	return nil
}

// DeleteExpired prunes dedup entries older than the cutoff.
func (r *DedupRepository) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM alert_dedup_state WHERE alerted_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired dedup state: %w", err)
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}
