package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/contractguard/contract-monitor/internal/model"
)

// ResultRepository persists the append-only check result and violation
// streams.
type ResultRepository struct {
	db *sqlx.DB
}

// NewResultRepository creates a result repository.
func NewResultRepository(db *sqlx.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// SaveResult appends one check result.
func (r *ResultRepository) SaveResult(ctx context.Context, result *model.CheckResult) error {
	row, err := encodeResult(uuid.NewString(), result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO check_results (
			id, contract_name, check_type, status, duration_seconds,
			timestamp, details, violation
		) VALUES (
			:id, :contract_name, :check_type, :status, :duration_seconds,
			:timestamp, :details, :violation
		)`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save check result: %w", err)
	}
	return nil
}

// SaveViolation appends one violation event.
func (r *ResultRepository) SaveViolation(ctx context.Context, violation *model.ViolationEvent) error {
	row, err := encodeViolation(uuid.NewString(), violation)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO violations (
			id, contract_name, contract_version, violation_type, severity,
			message, element, expected_value, actual_value, timestamp,
			check_duration_seconds, affected_consumers, metadata
		) VALUES (
			:id, :contract_name, :contract_version, :violation_type, :severity,
			:message, :element, :expected_value, :actual_value, :timestamp,
			:check_duration_seconds, :affected_consumers, :metadata
		)`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save violation: %w", err)
	}
	return nil
}

// ListResults returns the newest results for one contract.
func (r *ResultRepository) ListResults(ctx context.Context, contractName string, limit int) ([]*model.CheckResult, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []checkResultRow
	query := `
		SELECT * FROM check_results
		WHERE contract_name = $1
		ORDER BY timestamp DESC
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &rows, query, contractName, limit); err != nil {
		return nil, fmt.Errorf("failed to list results for %s: %w", contractName, err)
	}

	results := make([]*model.CheckResult, 0, len(rows))
	for i := range rows {
		result, err := decodeResult(&rows[i])
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// ListViolations returns the newest violations for one contract.
func (r *ResultRepository) ListViolations(ctx context.Context, contractName string, limit int) ([]*model.ViolationEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []violationRow
	query := `
		SELECT * FROM violations
		WHERE contract_name = $1
		ORDER BY timestamp DESC
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &rows, query, contractName, limit); err != nil {
		return nil, fmt.Errorf("failed to list violations for %s: %w", contractName, err)
	}

	violations := make([]*model.ViolationEvent, 0, len(rows))
	for i := range rows {
		violation, err := decodeViolation(&rows[i])
		if err != nil {
			return nil, err
		}
		violations = append(violations, violation)
	}
	return violations, nil
}

// PurgeOlderThan deletes results and violations older than the cutoff and
// returns the number of result rows removed.
func (r *ResultRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM check_results WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge check results: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM violations WHERE timestamp < $1`, cutoff); err != nil {
		return deleted, fmt.Errorf("failed to purge violations: %w", err)
	}
	return deleted, nil
}
