package sla

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractguard/contract-monitor/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type recordingRepo struct {
	mu       sync.Mutex
	statuses []model.CheckTypeSummary
	saved    []model.Incident
	updated  []model.Incident
}

func (r *recordingRepo) UpsertStatus(ctx context.Context, contractName string, summary *model.CheckTypeSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, *summary)
	return nil
}

func (r *recordingRepo) SaveIncident(ctx context.Context, incident *model.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, *incident)
	return nil
}

func (r *recordingRepo) UpdateIncident(ctx context.Context, incident *model.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, *incident)
	return nil
}

func result(contract string, checkType model.CheckType, status model.CheckStatus) *model.CheckResult {
	r := &model.CheckResult{
		ContractName: contract,
		CheckType:    checkType,
		Status:       status,
		Timestamp:    time.Now().UTC(),
	}
	if status == model.StatusFail {
		r.Violation = &model.ViolationEvent{
			ContractName:  contract,
			ViolationType: "freshness_sla",
			Severity:      model.SeverityCritical,
			Message:       "dataset stale",
		}
	}
	return r
}

func TestRecordCompliancePct(t *testing.T) {
	a := NewAggregator(nil, testLogger())
	ctx := context.Background()

	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusPass))
	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusPass))
	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusFail))
	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusPass))

	report := a.ComplianceReport("orders")
	summary := report.Summaries[model.CheckFreshness]
	require.NotNil(t, summary)
	assert.Equal(t, int64(4), summary.TotalChecks)
	assert.Equal(t, int64(3), summary.PassedChecks)
	assert.InDelta(t, 75.0, summary.CompliancePct, 0.001)
	assert.Equal(t, 75.0, report.OverallCompliancePct)
}

func TestRecordSkippedIgnored(t *testing.T) {
	a := NewAggregator(nil, testLogger())
	ctx := context.Background()

	a.Record(ctx, result("orders", model.CheckQuality, model.StatusSkipped))

	report := a.ComplianceReport("orders")
	assert.Empty(t, report.Summaries)
	assert.Empty(t, a.OpenIncidents())
}

func TestRecordConsecutiveViolationsAndTrend(t *testing.T) {
	a := NewAggregator(nil, testLogger())
	ctx := context.Background()

	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusPass))
	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusFail))
	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusFail))

	summary := a.ComplianceReport("orders").Summaries[model.CheckFreshness]
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.ConsecutiveViolations)
	assert.Equal(t, model.TrendDegrading, summary.Trend)
	assert.NotNil(t, summary.LastViolationAt)

	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusPass))
	summary = a.ComplianceReport("orders").Summaries[model.CheckFreshness]
	assert.Equal(t, 0, summary.ConsecutiveViolations)
	assert.Equal(t, model.TrendImproving, summary.Trend)
}

func TestIncidentOpenedOncePerPair(t *testing.T) {
	repo := &recordingRepo{}
	a := NewAggregator(repo, testLogger())
	ctx := context.Background()

	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusFail))
	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusFail))
	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusError))

	open := a.OpenIncidents()
	require.Len(t, open, 1)
	incident := open[0]
	assert.Equal(t, model.IncidentOpen, incident.Status)
	assert.Equal(t, 3, incident.OccurrenceCount)
	assert.Equal(t, model.PriorityP1, incident.Priority)

	assert.Len(t, repo.saved, 1)
	assert.Len(t, repo.updated, 2)
}

func TestIncidentAutoClosedOnRecovery(t *testing.T) {
	a := NewAggregator(nil, testLogger())
	ctx := context.Background()

	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusFail))
	require.Len(t, a.OpenIncidents(), 1)
	id := a.OpenIncidents()[0].ID

	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusPass))
	assert.Empty(t, a.OpenIncidents())

	closed, ok := a.Incident(id)
	require.True(t, ok)
	assert.Equal(t, model.IncidentClosed, closed.Status)
	assert.NotNil(t, closed.ResolvedAt)

	// A new failure opens a fresh incident, not a resurrection.
	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusFail))
	require.Len(t, a.OpenIncidents(), 1)
	assert.NotEqual(t, id, a.OpenIncidents()[0].ID)
	assert.Equal(t, 1, a.OpenIncidents()[0].OccurrenceCount)
}

func TestIncidentsIndependentPerCheckType(t *testing.T) {
	a := NewAggregator(nil, testLogger())
	ctx := context.Background()

	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusFail))
	a.Record(ctx, result("orders", model.CheckQuality, model.StatusFail))

	assert.Len(t, a.OpenIncidents(), 2)

	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusPass))
	open := a.OpenIncidents()
	require.Len(t, open, 1)
	assert.Equal(t, model.CheckQuality, open[0].CheckType)
}

func TestAcknowledge(t *testing.T) {
	a := NewAggregator(nil, testLogger())
	ctx := context.Background()

	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusFail))
	id := a.OpenIncidents()[0].ID

	require.NoError(t, a.Acknowledge(ctx, id, "oncall@example.com"))

	incident, ok := a.Incident(id)
	require.True(t, ok)
	assert.Equal(t, model.IncidentAcknowledged, incident.Status)
	assert.Equal(t, "oncall@example.com", incident.AcknowledgedBy)
	assert.NotNil(t, incident.AcknowledgedAt)

	// Acknowledged survives repeat violations.
	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusFail))
	incident, _ = a.Incident(id)
	assert.Equal(t, model.IncidentAcknowledged, incident.Status)
	assert.Equal(t, 2, incident.OccurrenceCount)

	// Only OPEN incidents can be acknowledged.
	assert.Error(t, a.Acknowledge(ctx, id, "someone-else"))

	assert.ErrorIs(t, a.Acknowledge(ctx, "missing", "x"), ErrIncidentNotFound)
}

func TestResolve(t *testing.T) {
	a := NewAggregator(nil, testLogger())
	ctx := context.Background()

	a.Record(ctx, result("orders", model.CheckFreshness, model.StatusFail))
	id := a.OpenIncidents()[0].ID

	require.NoError(t, a.Resolve(ctx, id))
	assert.Empty(t, a.OpenIncidents())

	incident, ok := a.Incident(id)
	require.True(t, ok)
	assert.Equal(t, model.IncidentResolved, incident.Status)

	// Resolving again is a no-op.
	require.NoError(t, a.Resolve(ctx, id))
	assert.ErrorIs(t, a.Resolve(ctx, "missing"), ErrIncidentNotFound)
}

func TestIncidentPriorityFromViolationSeverity(t *testing.T) {
	a := NewAggregator(nil, testLogger())
	ctx := context.Background()

	r := result("orders", model.CheckQuality, model.StatusFail)
	r.Violation.Severity = model.SeverityWarning
	a.Record(ctx, r)

	open := a.OpenIncidents()
	require.Len(t, open, 1)
	assert.Equal(t, model.PriorityP3, open[0].Priority)
}

func TestErrorWithoutViolationDefaultsP2(t *testing.T) {
	a := NewAggregator(nil, testLogger())
	ctx := context.Background()

	a.Record(ctx, result("orders", model.CheckAvailability, model.StatusError))

	open := a.OpenIncidents()
	require.Len(t, open, 1)
	assert.Equal(t, model.PriorityP2, open[0].Priority)
}
