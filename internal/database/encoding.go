package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/contractguard/contract-monitor/internal/model"
)

// Row types map model values onto the relational schema. Structured fields
// (details, metadata, check-time maps) are stored as JSONB columns; the
// encode/decode pair must round-trip every model field.

type contractRow struct {
	ContractName     string    `db:"contract_name"`
	ContractVersion  string    `db:"contract_version"`
	ContractData     []byte    `db:"contract_data"`
	ConnectionConfig []byte    `db:"connection_config"`
	RegisteredAt     time.Time `db:"registered_at"`
	LastCheckTimes   []byte    `db:"last_check_times"`
	Active           bool      `db:"active"`
}

type checkResultRow struct {
	ID              string    `db:"id"`
	ContractName    string    `db:"contract_name"`
	CheckType       string    `db:"check_type"`
	Status          string    `db:"status"`
	DurationSeconds float64   `db:"duration_seconds"`
	Timestamp       time.Time `db:"timestamp"`
	Details         []byte    `db:"details"`
	Violation       []byte    `db:"violation"`
}

type violationRow struct {
	ID                   string    `db:"id"`
	ContractName         string    `db:"contract_name"`
	ContractVersion      string    `db:"contract_version"`
	ViolationType        string    `db:"violation_type"`
	Severity             string    `db:"severity"`
	Message              string    `db:"message"`
	Element              string    `db:"element"`
	ExpectedValue        string    `db:"expected_value"`
	ActualValue          string    `db:"actual_value"`
	Timestamp            time.Time `db:"timestamp"`
	CheckDurationSeconds float64   `db:"check_duration_seconds"`
	AffectedConsumers    []byte    `db:"affected_consumers"`
	Metadata             []byte    `db:"metadata"`
}

type incidentRow struct {
	ID              string     `db:"id"`
	ContractName    string     `db:"contract_name"`
	CheckType       string     `db:"check_type"`
	Priority        string     `db:"priority"`
	Status          string     `db:"status"`
	Summary         string     `db:"summary"`
	OccurrenceCount int        `db:"occurrence_count"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	AcknowledgedAt  *time.Time `db:"acknowledged_at"`
	AcknowledgedBy  string     `db:"acknowledged_by"`
	ResolvedAt      *time.Time `db:"resolved_at"`
}

type slaStatusRow struct {
	ContractName          string     `db:"contract_name"`
	CheckType             string     `db:"check_type"`
	TotalChecks           int64      `db:"total_checks"`
	PassedChecks          int64      `db:"passed_checks"`
	CompliancePct         float64    `db:"compliance_pct"`
	ConsecutiveViolations int        `db:"consecutive_violations"`
	Trend                 string     `db:"trend"`
	LastStatus            string     `db:"last_status"`
	LastViolationAt       *time.Time `db:"last_violation_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

func encodeContract(c *model.RegisteredContract) (*contractRow, error) {
	connCfg, err := json.Marshal(c.ConnectionConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to encode connection config: %w", err)
	}
	checkTimes, err := json.Marshal(c.LastCheckTimes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode last check times: %w", err)
	}
	data := c.Data
	if data == nil {
		data = []byte("null")
	}
	return &contractRow{
		ContractName:     c.Name,
		ContractVersion:  c.Version,
		ContractData:     data,
		ConnectionConfig: connCfg,
		RegisteredAt:     c.RegisteredAt,
		LastCheckTimes:   checkTimes,
		Active:           c.Active,
	}, nil
}

func decodeContract(row *contractRow) (*model.RegisteredContract, error) {
	c := &model.RegisteredContract{
		Name:         row.ContractName,
		Version:      row.ContractVersion,
		RegisteredAt: row.RegisteredAt,
		Active:       row.Active,
	}
	if len(row.ContractData) > 0 && string(row.ContractData) != "null" {
		c.Data = append(json.RawMessage(nil), row.ContractData...)
	}
	if len(row.ConnectionConfig) > 0 {
		if err := json.Unmarshal(row.ConnectionConfig, &c.ConnectionConfig); err != nil {
			return nil, fmt.Errorf("failed to decode connection config: %w", err)
		}
	}
	if len(row.LastCheckTimes) > 0 {
		if err := json.Unmarshal(row.LastCheckTimes, &c.LastCheckTimes); err != nil {
			return nil, fmt.Errorf("failed to decode last check times: %w", err)
		}
	}
	return c, nil
}

func encodeResult(id string, r *model.CheckResult) (*checkResultRow, error) {
	details, err := json.Marshal(r.Details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result details: %w", err)
	}
	row := &checkResultRow{
		ID:              id,
		ContractName:    r.ContractName,
		CheckType:       string(r.CheckType),
		Status:          string(r.Status),
		DurationSeconds: r.DurationSeconds,
		Timestamp:       r.Timestamp,
		Details:         details,
	}
	if r.Violation != nil {
		violation, err := json.Marshal(r.Violation)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result violation: %w", err)
		}
		row.Violation = violation
	}
	return row, nil
}

func decodeResult(row *checkResultRow) (*model.CheckResult, error) {
	r := &model.CheckResult{
		ContractName:    row.ContractName,
		CheckType:       model.CheckType(row.CheckType),
		Status:          model.CheckStatus(row.Status),
		DurationSeconds: row.DurationSeconds,
		Timestamp:       row.Timestamp,
	}
	if len(row.Details) > 0 && string(row.Details) != "null" {
		if err := json.Unmarshal(row.Details, &r.Details); err != nil {
			return nil, fmt.Errorf("failed to decode result details: %w", err)
		}
	}
	if len(row.Violation) > 0 && string(row.Violation) != "null" {
		var violation model.ViolationEvent
		if err := json.Unmarshal(row.Violation, &violation); err != nil {
			return nil, fmt.Errorf("failed to decode result violation: %w", err)
		}
		r.Violation = &violation
	}
	return r, nil
}

func encodeViolation(id string, v *model.ViolationEvent) (*violationRow, error) {
	consumers, err := json.Marshal(v.AffectedConsumers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode affected consumers: %w", err)
	}
	metadata, err := json.Marshal(v.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode violation metadata: %w", err)
	}
	return &violationRow{
		ID:                   id,
		ContractName:         v.ContractName,
		ContractVersion:      v.ContractVersion,
		ViolationType:        v.ViolationType,
		Severity:             string(v.Severity),
		Message:              v.Message,
		Element:              v.Element,
		ExpectedValue:        v.ExpectedValue,
		ActualValue:          v.ActualValue,
		Timestamp:            v.Timestamp,
		CheckDurationSeconds: v.CheckDurationSeconds,
		AffectedConsumers:    consumers,
		Metadata:             metadata,
	}, nil
}

func decodeViolation(row *violationRow) (*model.ViolationEvent, error) {
	v := &model.ViolationEvent{
		ContractName:         row.ContractName,
		ContractVersion:      row.ContractVersion,
		ViolationType:        row.ViolationType,
		Severity:             model.Severity(row.Severity),
		Message:              row.Message,
		Element:              row.Element,
		ExpectedValue:        row.ExpectedValue,
		ActualValue:          row.ActualValue,
		Timestamp:            row.Timestamp,
		CheckDurationSeconds: row.CheckDurationSeconds,
	}
	if len(row.AffectedConsumers) > 0 && string(row.AffectedConsumers) != "null" {
		if err := json.Unmarshal(row.AffectedConsumers, &v.AffectedConsumers); err != nil {
			return nil, fmt.Errorf("failed to decode affected consumers: %w", err)
		}
	}
	if len(row.Metadata) > 0 && string(row.Metadata) != "null" {
		if err := json.Unmarshal(row.Metadata, &v.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode violation metadata: %w", err)
		}
	}
	return v, nil
}

func encodeIncident(i *model.Incident) *incidentRow {
	return &incidentRow{
		ID:              i.ID,
		ContractName:    i.ContractName,
		CheckType:       string(i.CheckType),
		Priority:        string(i.Priority),
		Status:          string(i.Status),
		Summary:         i.Summary,
		OccurrenceCount: i.OccurrenceCount,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,
		AcknowledgedAt:  i.AcknowledgedAt,
		AcknowledgedBy:  i.AcknowledgedBy,
		ResolvedAt:      i.ResolvedAt,
	}
}

func decodeIncident(row *incidentRow) *model.Incident {
	return &model.Incident{
		ID:              row.ID,
		ContractName:    row.ContractName,
		CheckType:       model.CheckType(row.CheckType),
		Priority:        model.IncidentPriority(row.Priority),
		Status:          model.IncidentStatus(row.Status),
		Summary:         row.Summary,
		OccurrenceCount: row.OccurrenceCount,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
		AcknowledgedAt:  row.AcknowledgedAt,
		AcknowledgedBy:  row.AcknowledgedBy,
		ResolvedAt:      row.ResolvedAt,
	}
}
