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

type fakeSchemaSource struct {
	baseline map[string]string
	err      error
}

func (f *fakeSchemaSource) BaselineSchema(ctx context.Context, contractName string) (map[string]string, error) {
	return f.baseline, f.err
}

func schemaContract(fields []map[string]string) *model.RegisteredContract {
	raw, _ := json.Marshal(map[string]any{"schema": map[string]any{"fields": fields}})
	return &model.RegisteredContract{Name: "orders", Version: "2.0.0", Data: raw, Active: true}
}

func TestSchemaDriftCheckNoSourceSkips(t *testing.T) {
	chk := NewSchemaDriftCheck(nil, testLogger())
	result := chk.Execute(context.Background(), schemaContract(nil), model.MonitoringConfig{})
	assert.Equal(t, model.StatusSkipped, result.Status)
}

func TestSchemaDriftCheckNoDrift(t *testing.T) {
	source := &fakeSchemaSource{baseline: map[string]string{"id": "bigint", "amount": "numeric"}}
	chk := NewSchemaDriftCheck(source, testLogger())

	contract := schemaContract([]map[string]string{
		{"name": "id", "type": "bigint"},
		{"name": "amount", "type": "numeric"},
	})
	result := chk.Execute(context.Background(), contract, model.MonitoringConfig{})

	assert.Equal(t, model.StatusPass, result.Status)
	assert.Nil(t, result.Violation)
}

func TestSchemaDriftCheckRemovedFieldIsCritical(t *testing.T) {
	source := &fakeSchemaSource{baseline: map[string]string{"id": "bigint", "amount": "numeric"}}
	chk := NewSchemaDriftCheck(source, testLogger())

	contract := schemaContract([]map[string]string{{"name": "id", "type": "bigint"}})
	result := chk.Execute(context.Background(), contract, model.MonitoringConfig{})

	require.Equal(t, model.StatusFail, result.Status)
	require.NotNil(t, result.Violation)
	assert.Equal(t, "schema_drift", result.Violation.ViolationType)
	assert.Equal(t, model.SeverityCritical, result.Violation.Severity)
	assert.Equal(t, "amount", result.Violation.Element)
}

func TestSchemaDriftCheckTypeChangeIsError(t *testing.T) {
	source := &fakeSchemaSource{baseline: map[string]string{"id": "bigint"}}
	chk := NewSchemaDriftCheck(source, testLogger())

	contract := schemaContract([]map[string]string{{"name": "id", "type": "text"}})
	result := chk.Execute(context.Background(), contract, model.MonitoringConfig{})

	require.Equal(t, model.StatusFail, result.Status)
	require.NotNil(t, result.Violation)
	assert.Equal(t, model.SeverityError, result.Violation.Severity)
	assert.Contains(t, result.Violation.Element, "bigint -> text")
}

func TestSchemaDriftCheckAddedFieldTolerated(t *testing.T) {
	source := &fakeSchemaSource{baseline: map[string]string{"id": "bigint"}}
	chk := NewSchemaDriftCheck(source, testLogger())

	contract := schemaContract([]map[string]string{
		{"name": "id", "type": "bigint"},
		{"name": "created_at", "type": "timestamptz"},
	})
	result := chk.Execute(context.Background(), contract, model.MonitoringConfig{})

	assert.Equal(t, model.StatusPass, result.Status)
	assert.Equal(t, []string{"created_at"}, result.Details["added_fields"])
}

func TestSchemaDriftCheckSourceError(t *testing.T) {
	source := &fakeSchemaSource{err: errors.New("catalog down")}
	chk := NewSchemaDriftCheck(source, testLogger())

	contract := schemaContract([]map[string]string{{"name": "id", "type": "bigint"}})
	result := chk.Execute(context.Background(), contract, model.MonitoringConfig{})

	assert.Equal(t, model.StatusError, result.Status)
	assert.Nil(t, result.Violation)
}
