package check

import (
	"context"
	"time"

	"github.com/contractguard/contract-monitor/internal/model"
)

// Check evaluates one contract against one SLA dimension. Execute must never
// return an error: missing config, unparsable data and collaborator failures
// are all captured in the result status (ERROR or SKIPPED).
type Check interface {
	CheckType() model.CheckType
	Execute(ctx context.Context, contract *model.RegisteredContract, cfg model.MonitoringConfig) model.CheckResult
}

// SchemaSource provides the baseline schema snapshot a contract was
// registered with, as a field name to field type map.
type SchemaSource interface {
	BaselineSchema(ctx context.Context, contractName string) (map[string]string, error)
}

// MetricsSource provides the latest quality metrics snapshot for a contract,
// used as the evaluation environment for quality rules.
type MetricsSource interface {
	Snapshot(ctx context.Context, contractName string) (map[string]any, error)
}

// Prober verifies connectivity to the compute backing a contract.
type Prober interface {
	Name() string
	Ping(ctx context.Context) error
}

// Result constructors stamp duration and timestamp from the caller's clock,
// the same one that produced start.

func passResult(contract *model.RegisteredContract, kind model.CheckType, now func() time.Time, start time.Time, details map[string]any) model.CheckResult {
	return model.CheckResult{
		ContractName:    contract.Name,
		CheckType:       kind,
		Status:          model.StatusPass,
		DurationSeconds: now().Sub(start).Seconds(),
		Timestamp:       now().UTC(),
		Details:         details,
	}
}

func failResult(contract *model.RegisteredContract, kind model.CheckType, now func() time.Time, start time.Time, violation *model.ViolationEvent, details map[string]any) model.CheckResult {
	violation.CheckDurationSeconds = now().Sub(start).Seconds()
	if violation.Timestamp.IsZero() {
		violation.Timestamp = now().UTC()
	}
	return model.CheckResult{
		ContractName:    contract.Name,
		CheckType:       kind,
		Status:          model.StatusFail,
		DurationSeconds: now().Sub(start).Seconds(),
		Timestamp:       now().UTC(),
		Details:         details,
		Violation:       violation,
	}
}

func errorResult(contract *model.RegisteredContract, kind model.CheckType, now func() time.Time, start time.Time, msg string) model.CheckResult {
	return model.CheckResult{
		ContractName:    contract.Name,
		CheckType:       kind,
		Status:          model.StatusError,
		DurationSeconds: now().Sub(start).Seconds(),
		Timestamp:       now().UTC(),
		Details:         map[string]any{"error": msg},
	}
}

func skippedResult(contract *model.RegisteredContract, kind model.CheckType, now func() time.Time, start time.Time, reason string) model.CheckResult {
	return model.CheckResult{
		ContractName:    contract.Name,
		CheckType:       kind,
		Status:          model.StatusSkipped,
		DurationSeconds: now().Sub(start).Seconds(),
		Timestamp:       now().UTC(),
		Details:         map[string]any{"reason": reason},
	}
}
