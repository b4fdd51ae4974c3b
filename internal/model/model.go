package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// CheckType identifies the SLA dimension a check evaluates.
type CheckType string

const (
	CheckFreshness    CheckType = "FRESHNESS"
	CheckSchemaDrift  CheckType = "SCHEMA_DRIFT"
	CheckQuality      CheckType = "QUALITY"
	CheckAvailability CheckType = "AVAILABILITY"
)

// AllCheckTypes returns every known check type in a stable order.
func AllCheckTypes() []CheckType {
	return []CheckType{CheckFreshness, CheckSchemaDrift, CheckQuality, CheckAvailability}
}

// ParseCheckType converts a string into a CheckType.
func ParseCheckType(s string) (CheckType, error) {
	for _, ct := range AllCheckTypes() {
		if string(ct) == s {
			return ct, nil
		}
	}
	return "", fmt.Errorf("unknown check type: %q", s)
}

// CheckStatus is the terminal outcome of a single check execution.
type CheckStatus string

const (
	StatusPass    CheckStatus = "PASS"
	StatusFail    CheckStatus = "FAIL"
	StatusError   CheckStatus = "ERROR"
	StatusSkipped CheckStatus = "SKIPPED"
)

// Severity of a contract violation. The order INFO < WARNING < ERROR <
// CRITICAL is total and used for routing-rule gating.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

var severityRanks = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityError:    2,
	SeverityCritical: 3,
}

// Rank returns the numeric position of the severity in the total order.
// Unknown severities rank below INFO so they never pass a gate.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return -1
}

// ParseSeverity converts a string into a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if _, ok := severityRanks[sev]; !ok {
		return "", fmt.Errorf("unknown severity: %q", s)
	}
	return sev, nil
}

// RegisteredContract is a data contract under monitoring. Contracts are
// upserted by name and deactivated rather than deleted.
type RegisteredContract struct {
	Name             string                  `json:"contract_name"`
	Version          string                  `json:"contract_version"`
	Data             json.RawMessage         `json:"contract_data"`
	ConnectionConfig map[string]string       `json:"connection_config,omitempty"`
	RegisteredAt     time.Time               `json:"registered_at"`
	LastCheckTimes   map[CheckType]time.Time `json:"last_check_times,omitempty"`
	Active           bool                    `json:"active"`
}

// Clone returns a deep copy so registry internals never leak to callers.
func (c *RegisteredContract) Clone() *RegisteredContract {
	cp := *c
	if c.Data != nil {
		cp.Data = append(json.RawMessage(nil), c.Data...)
	}
	if c.ConnectionConfig != nil {
		cp.ConnectionConfig = make(map[string]string, len(c.ConnectionConfig))
		for k, v := range c.ConnectionConfig {
			cp.ConnectionConfig[k] = v
		}
	}
	if c.LastCheckTimes != nil {
		cp.LastCheckTimes = make(map[CheckType]time.Time, len(c.LastCheckTimes))
		for k, v := range c.LastCheckTimes {
			cp.LastCheckTimes[k] = v
		}
	}
	return &cp
}

// CheckResult is the immutable record of one check execution.
type CheckResult struct {
	ContractName    string          `json:"contract_name"`
	CheckType       CheckType       `json:"check_type"`
	Status          CheckStatus     `json:"status"`
	DurationSeconds float64         `json:"duration_seconds"`
	Timestamp       time.Time       `json:"timestamp"`
	Details         map[string]any  `json:"details,omitempty"`
	Violation       *ViolationEvent `json:"violation,omitempty"`
}

// ViolationEvent is emitted when a check detects an SLA breach. It is the
// unit consumed by the alert router and the SLA/incident aggregator.
type ViolationEvent struct {
	ContractName         string            `json:"contract_name"`
	ContractVersion      string            `json:"contract_version"`
	ViolationType        string            `json:"violation_type"`
	Severity             Severity          `json:"severity"`
	Message              string            `json:"message"`
	Element              string            `json:"element,omitempty"`
	ExpectedValue        string            `json:"expected_value,omitempty"`
	ActualValue          string            `json:"actual_value,omitempty"`
	Timestamp            time.Time         `json:"timestamp"`
	CheckDurationSeconds float64           `json:"check_duration_seconds"`
	AffectedConsumers    []string          `json:"affected_consumers,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// DedupKey identifies repeat violations for alert suppression.
func (v *ViolationEvent) DedupKey() string {
	return v.ContractName + ":" + v.ViolationType
}

// NormalizeConsumers deduplicates and sorts a consumer list.
func NormalizeConsumers(consumers []string) []string {
	if len(consumers) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(consumers))
	out := make([]string, 0, len(consumers))
	for _, c := range consumers {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// RoutingRule maps violations to a named alert channel. ContractFilter is an
// optional glob matched against the contract name; empty matches everything.
type RoutingRule struct {
	ChannelName    string   `json:"channel_name" validate:"required"`
	MinSeverity    Severity `json:"min_severity" validate:"required"`
	ContractFilter string   `json:"contract_filter,omitempty"`
}

// AlertConfig is the process-wide alert routing configuration. Loaded once at
// startup and read-only thereafter.
type AlertConfig struct {
	RoutingRules           []RoutingRule `json:"routing_rules" validate:"dive"`
	DedupWindowMinutes     int           `json:"dedup_window_minutes" validate:"min=0"`
	RateLimitWindowMinutes int           `json:"rate_limit_window_minutes" validate:"min=1"`
	RateLimitPerContract   int           `json:"rate_limit_per_contract" validate:"min=1"`
}

// DedupWindow returns the dedup window as a duration.
func (c AlertConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMinutes) * time.Minute
}

// RateLimitWindow returns the rate-limit window as a duration.
func (c AlertConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMinutes) * time.Minute
}

// MonitoringConfig bounds check execution. Loaded once and handed to the
// monitor; the core never reads files itself.
type MonitoringConfig struct {
	CheckTimeoutSeconds       int `json:"check_timeout_seconds" validate:"min=1"`
	ClockSkewToleranceSeconds int `json:"clock_skew_tolerance_seconds" validate:"min=0"`
}

// CheckTimeout returns the per-check deadline.
func (c MonitoringConfig) CheckTimeout() time.Duration {
	return time.Duration(c.CheckTimeoutSeconds) * time.Second
}
