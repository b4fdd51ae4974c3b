package sla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/contractguard/contract-monitor/internal/metrics"
	"github.com/contractguard/contract-monitor/internal/model"
)

// ErrIncidentNotFound is returned when acknowledging an unknown incident.
var ErrIncidentNotFound = errors.New("sla: incident not found")

// trendEpsilon is the compliance delta, in percentage points, below which
// the trend is reported as STABLE.
const trendEpsilon = 0.1

// Repository persists aggregated SLA state and incidents. Optional: a nil
// repository keeps the aggregator purely in-memory.
type Repository interface {
	UpsertStatus(ctx context.Context, contractName string, summary *model.CheckTypeSummary) error
	SaveIncident(ctx context.Context, incident *model.Incident) error
	UpdateIncident(ctx context.Context, incident *model.Incident) error
}

type pairKey struct {
	contract string
	check    model.CheckType
}

// Aggregator consumes the check-result stream and maintains rolling
// compliance percentages plus incident lifecycle per (contract, check type).
type Aggregator struct {
	repo    Repository
	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu        sync.Mutex
	summaries map[pairKey]*model.CheckTypeSummary
	incidents map[pairKey]*model.Incident
	byID      map[string]*model.Incident
}

// NewAggregator creates an SLA aggregator.
func NewAggregator(repo Repository, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		repo:      repo,
		logger:    logger,
		now:       time.Now,
		summaries: make(map[pairKey]*model.CheckTypeSummary),
		incidents: make(map[pairKey]*model.Incident),
		byID:      make(map[string]*model.Incident),
	}
}

// WithClock overrides the clock, for tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// WithMetrics attaches the metrics collector.
func (a *Aggregator) WithMetrics(collector *metrics.Collector) *Aggregator {
	a.metrics = collector
	return a
}

// Record folds one check result into the rolling state. SKIPPED results do
// not count toward compliance and never touch incidents.
func (a *Aggregator) Record(ctx context.Context, result *model.CheckResult) {
	if result.Status == model.StatusSkipped {
		return
	}

	key := pairKey{contract: result.ContractName, check: result.CheckType}

	a.mu.Lock()
	summary, ok := a.summaries[key]
	if !ok {
		summary = &model.CheckTypeSummary{CheckType: result.CheckType, Trend: model.TrendStable}
		a.summaries[key] = summary
	}

	previous := summary.CompliancePct
	summary.TotalChecks++
	summary.LastStatus = result.Status

	switch result.Status {
	case model.StatusPass:
		summary.PassedChecks++
		summary.ConsecutiveViolations = 0
	case model.StatusFail, model.StatusError:
		summary.ConsecutiveViolations++
		ts := result.Timestamp
		summary.LastViolationAt = &ts
	}

	summary.CompliancePct = 100 * float64(summary.PassedChecks) / float64(summary.TotalChecks)
	summary.Trend = trendFor(summary.TotalChecks, previous, summary.CompliancePct)

	snapshot := *summary
	a.mu.Unlock()

	a.persistStatus(ctx, result.ContractName, &snapshot)

	switch result.Status {
	case model.StatusPass:
		a.closeIncident(ctx, key)
	case model.StatusFail, model.StatusError:
		a.openOrUpdateIncident(ctx, key, result)
	}
}

func trendFor(total int64, previous, current float64) model.TrendDirection {
	if total <= 1 {
		return model.TrendStable
	}
	switch {
	case current-previous > trendEpsilon:
		return model.TrendImproving
	case previous-current > trendEpsilon:
		return model.TrendDegrading
	default:
		return model.TrendStable
	}
}

// openOrUpdateIncident creates an OPEN incident on the first violation of a
// pair, or bumps the existing open one. Manual ACKNOWLEDGED state survives
// repeat violations.
func (a *Aggregator) openOrUpdateIncident(ctx context.Context, key pairKey, result *model.CheckResult) {
	now := a.now().UTC()

	a.mu.Lock()
	incident, ok := a.incidents[key]
	if ok && incident.Open() {
		incident.OccurrenceCount++
		incident.UpdatedAt = now
		snapshot := *incident
		a.mu.Unlock()

		a.persistIncident(ctx, &snapshot, false)
		return
	}

	severity := model.SeverityError
	summary := fmt.Sprintf("%s check failing for %s", result.CheckType, result.ContractName)
	if result.Violation != nil {
		severity = result.Violation.Severity
		summary = result.Violation.Message
	}

	incident = &model.Incident{
		ID:              uuid.NewString(),
		ContractName:    key.contract,
		CheckType:       key.check,
		Priority:        model.PriorityForSeverity(severity),
		Status:          model.IncidentOpen,
		Summary:         summary,
		OccurrenceCount: 1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	a.incidents[key] = incident
	a.byID[incident.ID] = incident
	open := len(a.incidents)
	snapshot := *incident
	a.mu.Unlock()

	a.metrics.IncidentOpened()
	a.metrics.SetOpenIncidents(open)
	a.logger.Info("Incident opened",
		"incident_id", snapshot.ID,
		"contract", key.contract,
		"check_type", key.check,
		"priority", snapshot.Priority)
	a.persistIncident(ctx, &snapshot, true)
}

// closeIncident auto-resolves the open incident for a pair when a check
// passes again. Closing is the one automatic transition allowed to override
// a manual acknowledgement.
func (a *Aggregator) closeIncident(ctx context.Context, key pairKey) {
	now := a.now().UTC()

	a.mu.Lock()
	incident, ok := a.incidents[key]
	if !ok || !incident.Open() {
		a.mu.Unlock()
		return
	}
	incident.Status = model.IncidentClosed
	incident.UpdatedAt = now
	incident.ResolvedAt = &now
	snapshot := *incident
	delete(a.incidents, key)
	open := len(a.incidents)
	a.mu.Unlock()

	a.metrics.IncidentClosed()
	a.metrics.SetOpenIncidents(open)
	a.logger.Info("Incident auto-closed on recovery",
		"incident_id", snapshot.ID,
		"contract", key.contract,
		"check_type", key.check,
		"occurrences", snapshot.OccurrenceCount)
	a.persistIncident(ctx, &snapshot, false)
}

// Acknowledge marks an incident as acknowledged by an external actor.
func (a *Aggregator) Acknowledge(ctx context.Context, incidentID, actor string) error {
	now := a.now().UTC()

	a.mu.Lock()
	incident, ok := a.byID[incidentID]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrIncidentNotFound, incidentID)
	}
	if incident.Status != model.IncidentOpen {
		status := incident.Status
		a.mu.Unlock()
		return fmt.Errorf("incident %s is %s, only OPEN incidents can be acknowledged", incidentID, status)
	}
	incident.Status = model.IncidentAcknowledged
	incident.AcknowledgedAt = &now
	incident.AcknowledgedBy = actor
	incident.UpdatedAt = now
	snapshot := *incident
	a.mu.Unlock()

	a.logger.Info("Incident acknowledged", "incident_id", incidentID, "actor", actor)
	a.persistIncident(ctx, &snapshot, false)
	return nil
}

// Resolve marks an incident resolved by an external actor.
func (a *Aggregator) Resolve(ctx context.Context, incidentID string) error {
	now := a.now().UTC()

	a.mu.Lock()
	incident, ok := a.byID[incidentID]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrIncidentNotFound, incidentID)
	}
	if !incident.Open() {
		a.mu.Unlock()
		return nil
	}
	incident.Status = model.IncidentResolved
	incident.ResolvedAt = &now
	incident.UpdatedAt = now
	delete(a.incidents, pairKey{contract: incident.ContractName, check: incident.CheckType})
	open := len(a.incidents)
	snapshot := *incident
	a.mu.Unlock()

	a.metrics.IncidentClosed()
	a.metrics.SetOpenIncidents(open)
	a.logger.Info("Incident resolved", "incident_id", incidentID)
	a.persistIncident(ctx, &snapshot, false)
	return nil
}

// OpenIncidents returns copies of all incidents that are still active.
func (a *Aggregator) OpenIncidents() []*model.Incident {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*model.Incident, 0, len(a.incidents))
	for _, incident := range a.incidents {
		cp := *incident
		out = append(out, &cp)
	}
	return out
}

// Incident returns a copy of one incident by ID.
func (a *Aggregator) Incident(incidentID string) (*model.Incident, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	incident, ok := a.byID[incidentID]
	if !ok {
		return nil, false
	}
	cp := *incident
	return &cp, true
}

// ComplianceReport assembles the rolling compliance state for one contract.
func (a *Aggregator) ComplianceReport(contractName string) *model.SLAComplianceReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	report := &model.SLAComplianceReport{
		ContractName: contractName,
		Summaries:    make(map[model.CheckType]*model.CheckTypeSummary),
		GeneratedAt:  a.now().UTC(),
	}

	var total, passed int64
	for key, summary := range a.summaries {
		if key.contract != contractName {
			continue
		}
		cp := *summary
		report.Summaries[key.check] = &cp
		total += summary.TotalChecks
		passed += summary.PassedChecks
	}
	if total > 0 {
		report.OverallCompliancePct = math.Round(10000*float64(passed)/float64(total)) / 100
	}
	return report
}

func (a *Aggregator) persistStatus(ctx context.Context, contractName string, summary *model.CheckTypeSummary) {
	if a.repo == nil {
		return
	}
	if err := a.repo.UpsertStatus(ctx, contractName, summary); err != nil {
		a.logger.Error("Failed to persist SLA status",
			"contract", contractName,
			"check_type", summary.CheckType,
			"error", err)
	}
}

func (a *Aggregator) persistIncident(ctx context.Context, incident *model.Incident, created bool) {
	if a.repo == nil {
		return
	}
	var err error
	if created {
		err = a.repo.SaveIncident(ctx, incident)
	} else {
		err = a.repo.UpdateIncident(ctx, incident)
	}
	if err != nil {
		a.logger.Error("Failed to persist incident", "incident_id", incident.ID, "error", err)
	}
}
