package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/contractguard/contract-monitor/internal/model"
)

// IncidentRepository persists the incident lifecycle.
type IncidentRepository struct {
	db *sqlx.DB
}

// NewIncidentRepository creates an incident repository.
func NewIncidentRepository(db *sqlx.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// SaveIncident inserts a newly opened incident.
func (r *IncidentRepository) SaveIncident(ctx context.Context, incident *model.Incident) error {
	query := `
		INSERT INTO incidents (
			id, contract_name, check_type, priority, status, summary,
			occurrence_count, created_at, updated_at,
			acknowledged_at, acknowledged_by, resolved_at
		) VALUES (
			:id, :contract_name, :check_type, :priority, :status, :summary,
			:occurrence_count, :created_at, :updated_at,
			:acknowledged_at, :acknowledged_by, :resolved_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, encodeIncident(incident)); err != nil {
		return fmt.Errorf("failed to save incident %s: %w", incident.ID, err)
	}
	return nil
}

// UpdateIncident rewrites the mutable fields of an existing incident.
func (r *IncidentRepository) UpdateIncident(ctx context.Context, incident *model.Incident) error {
	query := `
		UPDATE incidents SET
			priority = :priority,
			status = :status,
			summary = :summary,
			occurrence_count = :occurrence_count,
			updated_at = :updated_at,
			acknowledged_at = :acknowledged_at,
			acknowledged_by = :acknowledged_by,
			resolved_at = :resolved_at
		WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, query, encodeIncident(incident))
	if err != nil {
		return fmt.Errorf("failed to update incident %s: %w", incident.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("incident %s not found", incident.ID)
	}
	return nil
}

// GetIncident loads one incident by ID.
func (r *IncidentRepository) GetIncident(ctx context.Context, id string) (*model.Incident, error) {
	var row incidentRow
	query := `SELECT * FROM incidents WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident %s: %w", id, err)
	}
	return decodeIncident(&row), nil
}

// ListOpenIncidents returns incidents still in OPEN or ACKNOWLEDGED state.
func (r *IncidentRepository) ListOpenIncidents(ctx context.Context) ([]*model.Incident, error) {
	var rows []incidentRow
	query := `
		SELECT * FROM incidents
		WHERE status IN ($1, $2)
		ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &rows, query, string(model.IncidentOpen), string(model.IncidentAcknowledged)); err != nil {
		return nil, fmt.Errorf("failed to list open incidents: %w", err)
	}

	incidents := make([]*model.Incident, 0, len(rows))
	for i := range rows {
		incidents = append(incidents, decodeIncident(&rows[i]))
	}
	return incidents, nil
}
