package check

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/contractguard/contract-monitor/internal/model"
)

// SchemaDriftCheck compares the schema declared in contract data against the
// baseline snapshot the contract was registered with. Removed fields are
// breaking (CRITICAL); type changes are ERROR; additions are tolerated.
type SchemaDriftCheck struct {
	source SchemaSource
	logger *slog.Logger
}

// NewSchemaDriftCheck creates a schema drift check. A nil source makes the
// check report SKIPPED.
func NewSchemaDriftCheck(source SchemaSource, logger *slog.Logger) *SchemaDriftCheck {
	return &SchemaDriftCheck{source: source, logger: logger}
}

func (c *SchemaDriftCheck) CheckType() model.CheckType {
	return model.CheckSchemaDrift
}

func (c *SchemaDriftCheck) Execute(ctx context.Context, contract *model.RegisteredContract, cfg model.MonitoringConfig) model.CheckResult {
	start := time.Now()

	if c.source == nil {
		return skippedResult(contract, model.CheckSchemaDrift, time.Now, start,
			"no schema source configured; schema drift detection requires a catalog collaborator")
	}

	fields := gjson.GetBytes(contract.Data, "schema.fields")
	if !fields.Exists() || !fields.IsArray() {
		return errorResult(contract, model.CheckSchemaDrift, time.Now, start, "contract data missing schema.fields")
	}

	current := make(map[string]string)
	for _, f := range fields.Array() {
		name := f.Get("name").String()
		if name == "" {
			return errorResult(contract, model.CheckSchemaDrift, time.Now, start, "schema field without a name")
		}
		current[name] = f.Get("type").String()
	}

	baseline, err := c.source.BaselineSchema(ctx, contract.Name)
	if err != nil {
		return errorResult(contract, model.CheckSchemaDrift, time.Now, start,
			fmt.Sprintf("failed to load baseline schema: %v", err))
	}

	var removed, changed []string
	for name, typ := range baseline {
		cur, ok := current[name]
		if !ok {
			removed = append(removed, name)
			continue
		}
		if cur != typ {
			changed = append(changed, fmt.Sprintf("%s (%s -> %s)", name, typ, cur))
		}
	}
	var added []string
	for name := range current {
		if _, ok := baseline[name]; !ok {
			added = append(added, name)
		}
	}
	sort.Strings(removed)
	sort.Strings(changed)
	sort.Strings(added)

	details := map[string]any{
		"baseline_fields": len(baseline),
		"current_fields":  len(current),
	}
	if len(added) > 0 {
		details["added_fields"] = added
	}

	if len(removed) == 0 && len(changed) == 0 {
		return passResult(contract, model.CheckSchemaDrift, time.Now, start, details)
	}

	severity := model.SeverityError
	element := strings.Join(changed, ", ")
	message := fmt.Sprintf("schema drift on %s: %d field(s) changed type", contract.Name, len(changed))
	if len(removed) > 0 {
		severity = model.SeverityCritical
		element = strings.Join(removed, ", ")
		message = fmt.Sprintf("schema drift on %s: %d field(s) removed", contract.Name, len(removed))
	}

	violation := &model.ViolationEvent{
		ContractName:      contract.Name,
		ContractVersion:   contract.Version,
		ViolationType:     "schema_drift",
		Severity:          severity,
		Message:           message,
		Element:           element,
		ExpectedValue:     fmt.Sprintf("%d baseline fields unchanged", len(baseline)),
		ActualValue:       fmt.Sprintf("%d removed, %d changed", len(removed), len(changed)),
		Timestamp:         time.Now().UTC(),
		AffectedConsumers: consumersFromContract(contract),
		Metadata: map[string]string{
			"removed_fields": strings.Join(removed, ","),
			"changed_fields": strings.Join(changed, ","),
		},
	}
	return failResult(contract, model.CheckSchemaDrift, time.Now, start, violation, details)
}
