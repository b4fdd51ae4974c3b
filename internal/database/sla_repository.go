package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/contractguard/contract-monitor/internal/model"
)

// SLARepository persists rolling SLA snapshots and daily aggregates.
type SLARepository struct {
	db *sqlx.DB
}

// NewSLARepository creates an SLA repository.
func NewSLARepository(db *sqlx.DB) *SLARepository {
	return &SLARepository{db: db}
}

// UpsertStatus writes the current rolling summary for one (contract, check
// type) pair.
func (r *SLARepository) UpsertStatus(ctx context.Context, contractName string, summary *model.CheckTypeSummary) error {
	row := slaStatusRow{
		ContractName:          contractName,
		CheckType:             string(summary.CheckType),
		TotalChecks:           summary.TotalChecks,
		PassedChecks:          summary.PassedChecks,
		CompliancePct:         summary.CompliancePct,
		ConsecutiveViolations: summary.ConsecutiveViolations,
		Trend:                 string(summary.Trend),
		LastStatus:            string(summary.LastStatus),
		LastViolationAt:       summary.LastViolationAt,
		UpdatedAt:             time.Now().UTC(),
	}

	query := `
		INSERT INTO sla_status (
			contract_name, check_type, total_checks, passed_checks,
			compliance_pct, consecutive_violations, trend, last_status,
			last_violation_at, updated_at
		) VALUES (
			:contract_name, :check_type, :total_checks, :passed_checks,
			:compliance_pct, :consecutive_violations, :trend, :last_status,
			:last_violation_at, :updated_at
		)
		ON CONFLICT (contract_name, check_type) DO UPDATE SET
			total_checks = EXCLUDED.total_checks,
			passed_checks = EXCLUDED.passed_checks,
			compliance_pct = EXCLUDED.compliance_pct,
			consecutive_violations = EXCLUDED.consecutive_violations,
			trend = EXCLUDED.trend,
			last_status = EXCLUDED.last_status,
			last_violation_at = EXCLUDED.last_violation_at,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to upsert SLA status for %s/%s: %w", contractName, summary.CheckType, err)
	}
	return nil
}

// ListStatuses loads the stored rolling summaries for one contract.
func (r *SLARepository) ListStatuses(ctx context.Context, contractName string) ([]*model.CheckTypeSummary, error) {
	var rows []slaStatusRow
	query := `SELECT * FROM sla_status WHERE contract_name = $1 ORDER BY check_type`
	if err := r.db.SelectContext(ctx, &rows, query, contractName); err != nil {
		return nil, fmt.Errorf("failed to list SLA statuses for %s: %w", contractName, err)
	}

	summaries := make([]*model.CheckTypeSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, &model.CheckTypeSummary{
			CheckType:             model.CheckType(row.CheckType),
			TotalChecks:           row.TotalChecks,
			PassedChecks:          row.PassedChecks,
			CompliancePct:         row.CompliancePct,
			ConsecutiveViolations: row.ConsecutiveViolations,
			Trend:                 model.TrendDirection(row.Trend),
			LastStatus:            model.CheckStatus(row.LastStatus),
			LastViolationAt:       row.LastViolationAt,
		})
	}
	return summaries, nil
}

// RollupDaily computes per-day compliance aggregates from the result stream
// for the given UTC day and upserts them into sla_daily_aggregates.
func (r *SLARepository) RollupDaily(ctx context.Context, day time.Time) error {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.AddDate(0, 0, 1)

	query := `
		INSERT INTO sla_daily_aggregates (
			day, contract_name, check_type, total_checks, passed_checks, compliance_pct
		)
		SELECT
			$1::date,
			contract_name,
			check_type,
			COUNT(*) FILTER (WHERE status <> 'SKIPPED'),
			COUNT(*) FILTER (WHERE status = 'PASS'),
			CASE
				WHEN COUNT(*) FILTER (WHERE status <> 'SKIPPED') = 0 THEN 0
				ELSE 100.0 * COUNT(*) FILTER (WHERE status = 'PASS')
					/ COUNT(*) FILTER (WHERE status <> 'SKIPPED')
			END
		FROM check_results
		WHERE timestamp >= $2 AND timestamp < $3
		GROUP BY contract_name, check_type
		ON CONFLICT (day, contract_name, check_type) DO UPDATE SET
			total_checks = EXCLUDED.total_checks,
			passed_checks = EXCLUDED.passed_checks,
			compliance_pct = EXCLUDED.compliance_pct`

	if _, err := r.db.ExecContext(ctx, query, start, start, end); err != nil {
		return fmt.Errorf("failed to roll up daily aggregates for %s: %w", start.Format("2006-01-02"), err)
	}
	return nil
}
