package check

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractguard/contract-monitor/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func freshnessContract(lastUpdated time.Time, thresholdMinutes float64) *model.RegisteredContract {
	data := map[string]any{
		"sla": map[string]any{
			"freshness": map[string]any{"threshold_minutes": thresholdMinutes},
		},
		"dataset": map[string]any{
			"name":         "orders",
			"last_updated": lastUpdated.UTC().Format(time.RFC3339),
		},
		"consumers": []map[string]any{
			{"name": "billing"},
			{"name": "analytics"},
			{"name": "billing"},
		},
	}
	raw, _ := json.Marshal(data)
	return &model.RegisteredContract{
		Name:    "orders",
		Version: "1.0.0",
		Data:    raw,
		Active:  true,
	}
}

func TestFreshnessCheckPass(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	chk := NewFreshnessCheck(testLogger()).WithClock(func() time.Time { return now })

	contract := freshnessContract(now.Add(-30*time.Minute), 60)
	result := chk.Execute(context.Background(), contract, model.MonitoringConfig{CheckTimeoutSeconds: 30})

	assert.Equal(t, model.StatusPass, result.Status)
	assert.Nil(t, result.Violation)
	assert.InDelta(t, 30.0, result.Details["data_age_minutes"], 0.01)
}

func TestFreshnessCheckStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	chk := NewFreshnessCheck(testLogger()).WithClock(func() time.Time { return now })

	contract := freshnessContract(now.Add(-61*time.Minute), 60)
	result := chk.Execute(context.Background(), contract, model.MonitoringConfig{CheckTimeoutSeconds: 30})

	require.Equal(t, model.StatusFail, result.Status)
	require.NotNil(t, result.Violation)
	assert.Equal(t, "freshness_sla", result.Violation.ViolationType)
	assert.Equal(t, model.SeverityError, result.Violation.Severity)
	assert.Equal(t, "<= 60 minutes", result.Violation.ExpectedValue)
	assert.Equal(t, "61.0 minutes", result.Violation.ActualValue)
	assert.Equal(t, []string{"analytics", "billing"}, result.Violation.AffectedConsumers)
}

func TestFreshnessCheckTimingFromClock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	chk := NewFreshnessCheck(testLogger()).WithClock(func() time.Time { return now })

	contract := freshnessContract(now.Add(-2*time.Hour), 60)
	result := chk.Execute(context.Background(), contract, model.MonitoringConfig{CheckTimeoutSeconds: 30})

	// Duration and timestamp come from the same clock that produced the
	// start time, so a frozen clock yields a zero duration.
	require.Equal(t, model.StatusFail, result.Status)
	assert.Equal(t, 0.0, result.DurationSeconds)
	assert.True(t, result.Timestamp.Equal(now))
	require.NotNil(t, result.Violation)
	assert.Equal(t, 0.0, result.Violation.CheckDurationSeconds)
}

func TestFreshnessCheckClockSkewTolerance(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	chk := NewFreshnessCheck(testLogger()).WithClock(func() time.Time { return now })

	// 30 seconds past the threshold, but within the 60s skew tolerance.
	contract := freshnessContract(now.Add(-60*time.Minute-30*time.Second), 60)
	cfg := model.MonitoringConfig{CheckTimeoutSeconds: 30, ClockSkewToleranceSeconds: 60}

	result := chk.Execute(context.Background(), contract, cfg)
	assert.Equal(t, model.StatusPass, result.Status)

	// Past the tolerance too.
	contract = freshnessContract(now.Add(-60*time.Minute-90*time.Second), 60)
	result = chk.Execute(context.Background(), contract, cfg)
	assert.Equal(t, model.StatusFail, result.Status)
}

func TestFreshnessCheckMissingThreshold(t *testing.T) {
	chk := NewFreshnessCheck(testLogger())
	contract := &model.RegisteredContract{
		Name: "orders",
		Data: json.RawMessage(`{"dataset":{"last_updated":"2026-03-01T10:00:00Z"}}`),
	}

	result := chk.Execute(context.Background(), contract, model.MonitoringConfig{CheckTimeoutSeconds: 30})
	assert.Equal(t, model.StatusError, result.Status)
	assert.Contains(t, result.Details["error"], "threshold_minutes")
}

func TestFreshnessCheckUnparsableTimestamp(t *testing.T) {
	chk := NewFreshnessCheck(testLogger())
	contract := &model.RegisteredContract{
		Name: "orders",
		Data: json.RawMessage(`{"sla":{"freshness":{"threshold_minutes":60}},"dataset":{"last_updated":"yesterday"}}`),
	}

	result := chk.Execute(context.Background(), contract, model.MonitoringConfig{CheckTimeoutSeconds: 30})
	assert.Equal(t, model.StatusError, result.Status)
	assert.Nil(t, result.Violation)
}
