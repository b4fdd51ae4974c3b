package model

import "time"

// IncidentStatus is the incident lifecycle state.
type IncidentStatus string

const (
	IncidentOpen         IncidentStatus = "OPEN"
	IncidentAcknowledged IncidentStatus = "ACKNOWLEDGED"
	IncidentResolved     IncidentStatus = "RESOLVED"
	IncidentClosed       IncidentStatus = "CLOSED"
)

// IncidentPriority is derived from the severity of the triggering violation.
type IncidentPriority string

const (
	PriorityP1 IncidentPriority = "P1"
	PriorityP2 IncidentPriority = "P2"
	PriorityP3 IncidentPriority = "P3"
	PriorityP4 IncidentPriority = "P4"
)

// PriorityForSeverity maps violation severity to incident priority.
func PriorityForSeverity(s Severity) IncidentPriority {
	switch s {
	case SeverityCritical:
		return PriorityP1
	case SeverityError:
		return PriorityP2
	case SeverityWarning:
		return PriorityP3
	default:
		return PriorityP4
	}
}

// Incident is the stateful record of an ongoing or resolved contract
// problem, distinct from individual check results. At most one incident is
// open per (contract, check type) pair.
type Incident struct {
	ID              string           `json:"id"`
	ContractName    string           `json:"contract_name"`
	CheckType       CheckType        `json:"check_type"`
	Priority        IncidentPriority `json:"priority"`
	Status          IncidentStatus   `json:"status"`
	Summary         string           `json:"summary"`
	OccurrenceCount int              `json:"occurrence_count"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	AcknowledgedAt  *time.Time       `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string           `json:"acknowledged_by,omitempty"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
}

// Open reports whether the incident is still active.
func (i *Incident) Open() bool {
	return i.Status == IncidentOpen || i.Status == IncidentAcknowledged
}

// TrendDirection describes the movement of a compliance percentage.
type TrendDirection string

const (
	TrendImproving TrendDirection = "IMPROVING"
	TrendDegrading TrendDirection = "DEGRADING"
	TrendStable    TrendDirection = "STABLE"
)

// CheckTypeSummary is the rolling SLA state for one (contract, check type)
// pair. Derived from the result stream, never hand-edited.
type CheckTypeSummary struct {
	CheckType             CheckType      `json:"check_type"`
	TotalChecks           int64          `json:"total_checks"`
	PassedChecks          int64          `json:"passed_checks"`
	CompliancePct         float64        `json:"compliance_pct"`
	ConsecutiveViolations int            `json:"consecutive_violations"`
	Trend                 TrendDirection `json:"trend"`
	LastStatus            CheckStatus    `json:"last_status"`
	LastViolationAt       *time.Time     `json:"last_violation_at,omitempty"`
}

// SLAComplianceReport aggregates summaries for one contract.
type SLAComplianceReport struct {
	ContractName         string                          `json:"contract_name"`
	OverallCompliancePct float64                         `json:"overall_compliance_pct"`
	Summaries            map[CheckType]*CheckTypeSummary `json:"summaries"`
	GeneratedAt          time.Time                       `json:"generated_at"`
}
