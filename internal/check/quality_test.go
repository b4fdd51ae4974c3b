package check

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractguard/contract-monitor/internal/model"
)

type fakeMetricsSource struct {
	snapshot map[string]any
	err      error
}

func (f *fakeMetricsSource) Snapshot(ctx context.Context, contractName string) (map[string]any, error) {
	return f.snapshot, f.err
}

func qualityContract(rules []map[string]any) *model.RegisteredContract {
	raw, _ := json.Marshal(map[string]any{"quality": map[string]any{"rules": rules}})
	return &model.RegisteredContract{Name: "orders", Version: "1.0.0", Data: raw, Active: true}
}

func TestQualityCheckNoSourceSkips(t *testing.T) {
	chk := NewQualityCheck(nil, testLogger())
	result := chk.Execute(context.Background(), qualityContract(nil), model.MonitoringConfig{})
	assert.Equal(t, model.StatusSkipped, result.Status)
}

func TestQualityCheckAllRulesPass(t *testing.T) {
	source := &fakeMetricsSource{snapshot: map[string]any{"null_ratio": 0.001, "row_count": 50000}}
	chk := NewQualityCheck(source, testLogger())

	contract := qualityContract([]map[string]any{
		{"name": "nulls", "expression": "null_ratio < 0.01"},
		{"name": "volume", "expression": "row_count >= 1000"},
	})
	result := chk.Execute(context.Background(), contract, model.MonitoringConfig{})

	assert.Equal(t, model.StatusPass, result.Status)
	assert.Equal(t, 2, result.Details["rules_evaluated"])
}

func TestQualityCheckFailingRule(t *testing.T) {
	source := &fakeMetricsSource{snapshot: map[string]any{"null_ratio": 0.05, "row_count": 50000}}
	chk := NewQualityCheck(source, testLogger())

	contract := qualityContract([]map[string]any{
		{"name": "nulls", "expression": "null_ratio < 0.01", "severity": "WARNING"},
	})
	result := chk.Execute(context.Background(), contract, model.MonitoringConfig{})

	require.Equal(t, model.StatusFail, result.Status)
	require.NotNil(t, result.Violation)
	assert.Equal(t, "quality_rule", result.Violation.ViolationType)
	assert.Equal(t, model.SeverityWarning, result.Violation.Severity)
	assert.Equal(t, "nulls", result.Violation.Element)
	assert.Equal(t, "null_ratio < 0.01", result.Violation.ExpectedValue)
	assert.Contains(t, result.Violation.ActualValue, "null_ratio")
}

func TestQualityCheckInvalidSeverityFallsBack(t *testing.T) {
	source := &fakeMetricsSource{snapshot: map[string]any{"row_count": 0}}
	chk := NewQualityCheck(source, testLogger())

	contract := qualityContract([]map[string]any{
		{"name": "volume", "expression": "row_count > 100", "severity": "SEVERE"},
	})
	result := chk.Execute(context.Background(), contract, model.MonitoringConfig{})

	require.NotNil(t, result.Violation)
	assert.Equal(t, model.SeverityError, result.Violation.Severity)
}

func TestQualityCheckBadExpression(t *testing.T) {
	source := &fakeMetricsSource{snapshot: map[string]any{"row_count": 10}}
	chk := NewQualityCheck(source, testLogger())

	contract := qualityContract([]map[string]any{
		{"name": "broken", "expression": "row_count >"},
	})
	result := chk.Execute(context.Background(), contract, model.MonitoringConfig{})

	assert.Equal(t, model.StatusError, result.Status)
	assert.Nil(t, result.Violation)
}

func TestQualityCheckSnapshotError(t *testing.T) {
	source := &fakeMetricsSource{err: errors.New("metrics store unavailable")}
	chk := NewQualityCheck(source, testLogger())

	contract := qualityContract([]map[string]any{
		{"name": "nulls", "expression": "null_ratio < 0.01"},
	})
	result := chk.Execute(context.Background(), contract, model.MonitoringConfig{})

	assert.Equal(t, model.StatusError, result.Status)
}

func TestQualityCheckEmptyRules(t *testing.T) {
	source := &fakeMetricsSource{snapshot: map[string]any{}}
	chk := NewQualityCheck(source, testLogger())

	result := chk.Execute(context.Background(), qualityContract([]map[string]any{}), model.MonitoringConfig{})
	assert.Equal(t, model.StatusPass, result.Status)
	assert.Equal(t, 0, result.Details["rules_evaluated"])
}

func TestContainsIdentifier(t *testing.T) {
	assert.True(t, containsIdentifier("null_ratio < 0.01", "null_ratio"))
	assert.False(t, containsIdentifier("null_ratio_pct < 0.01", "null_ratio"))
	assert.True(t, containsIdentifier("a+row_count", "row_count"))
}
