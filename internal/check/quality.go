package check

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/antonmedv/expr"
	"github.com/tidwall/gjson"

	"github.com/contractguard/contract-monitor/internal/model"
)

// QualityCheck evaluates the quality rules declared in contract data against
// the latest metrics snapshot. Each rule is a boolean expression over the
// snapshot, e.g. "null_ratio < 0.01" or "row_count >= 1000".
type QualityCheck struct {
	source MetricsSource
	logger *slog.Logger
}

// NewQualityCheck creates a quality check. A nil source makes the check
// report SKIPPED.
func NewQualityCheck(source MetricsSource, logger *slog.Logger) *QualityCheck {
	return &QualityCheck{source: source, logger: logger}
}

func (c *QualityCheck) CheckType() model.CheckType {
	return model.CheckQuality
}

func (c *QualityCheck) Execute(ctx context.Context, contract *model.RegisteredContract, cfg model.MonitoringConfig) model.CheckResult {
	start := time.Now()

	if c.source == nil {
		return skippedResult(contract, model.CheckQuality, time.Now, start,
			"no metrics source configured; quality checks require a metrics collaborator")
	}

	rules := gjson.GetBytes(contract.Data, "quality.rules")
	if !rules.Exists() || !rules.IsArray() {
		return errorResult(contract, model.CheckQuality, time.Now, start, "contract data missing quality.rules")
	}
	if len(rules.Array()) == 0 {
		return passResult(contract, model.CheckQuality, time.Now, start, map[string]any{"rules_evaluated": 0})
	}

	snapshot, err := c.source.Snapshot(ctx, contract.Name)
	if err != nil {
		return errorResult(contract, model.CheckQuality, time.Now, start,
			fmt.Sprintf("failed to load metrics snapshot: %v", err))
	}

	evaluated := 0
	for _, rule := range rules.Array() {
		name := rule.Get("name").String()
		expression := rule.Get("expression").String()
		if expression == "" {
			return errorResult(contract, model.CheckQuality, time.Now, start,
				fmt.Sprintf("quality rule %q has no expression", name))
		}

		program, err := expr.Compile(expression, expr.Env(snapshot), expr.AsBool())
		if err != nil {
			return errorResult(contract, model.CheckQuality, time.Now, start,
				fmt.Sprintf("failed to compile quality rule %q: %v", name, err))
		}
		out, err := expr.Run(program, snapshot)
		if err != nil {
			return errorResult(contract, model.CheckQuality, time.Now, start,
				fmt.Sprintf("failed to evaluate quality rule %q: %v", name, err))
		}
		evaluated++

		if passed, _ := out.(bool); passed {
			continue
		}

		severity := model.SeverityError
		if s := rule.Get("severity"); s.Exists() {
			if parsed, err := model.ParseSeverity(s.String()); err == nil {
				severity = parsed
			}
		}
		violation := &model.ViolationEvent{
			ContractName:      contract.Name,
			ContractVersion:   contract.Version,
			ViolationType:     "quality_rule",
			Severity:          severity,
			Message:           fmt.Sprintf("quality rule %q failed for %s", name, contract.Name),
			Element:           name,
			ExpectedValue:     expression,
			ActualValue:       fmt.Sprintf("%v", snapshotSummary(snapshot, expression)),
			Timestamp:         time.Now().UTC(),
			AffectedConsumers: consumersFromContract(contract),
			Metadata:          map[string]string{"rule": name, "expression": expression},
		}
		c.logger.Warn("quality rule failed", "contract", contract.Name, "rule", name)
		return failResult(contract, model.CheckQuality, time.Now, start, violation, map[string]any{
			"rules_evaluated": evaluated,
			"failed_rule":     name,
		})
	}

	return passResult(contract, model.CheckQuality, time.Now, start, map[string]any{"rules_evaluated": evaluated})
}

// snapshotSummary extracts the snapshot values referenced by an expression,
// best effort, so the violation carries the observed numbers.
func snapshotSummary(snapshot map[string]any, expression string) map[string]any {
	out := make(map[string]any)
	for key, val := range snapshot {
		if containsIdentifier(expression, key) {
			out[key] = val
		}
	}
	if len(out) == 0 {
		return snapshot
	}
	return out
}

func containsIdentifier(expression, ident string) bool {
	for i := 0; i+len(ident) <= len(expression); i++ {
		if expression[i:i+len(ident)] != ident {
			continue
		}
		beforeOK := i == 0 || !isIdentChar(expression[i-1])
		afterOK := i+len(ident) == len(expression) || !isIdentChar(expression[i+len(ident)])
		if beforeOK && afterOK {
			return true
		}
	}
	return false
}

func isIdentChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
