package check

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/contractguard/contract-monitor/internal/model"
)

// FreshnessCheck verifies that a contract's dataset was updated within the
// SLA threshold. Contract data is expected to carry
// sla.freshness.threshold_minutes and dataset.last_updated (RFC 3339).
type FreshnessCheck struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewFreshnessCheck creates a freshness check.
func NewFreshnessCheck(logger *slog.Logger) *FreshnessCheck {
	return &FreshnessCheck{logger: logger, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (c *FreshnessCheck) WithClock(now func() time.Time) *FreshnessCheck {
	c.now = now
	return c
}

func (c *FreshnessCheck) CheckType() model.CheckType {
	return model.CheckFreshness
}

func (c *FreshnessCheck) Execute(ctx context.Context, contract *model.RegisteredContract, cfg model.MonitoringConfig) model.CheckResult {
	start := c.now()

	threshold := gjson.GetBytes(contract.Data, "sla.freshness.threshold_minutes")
	if !threshold.Exists() {
		return errorResult(contract, model.CheckFreshness, c.now, start, "contract data missing sla.freshness.threshold_minutes")
	}
	thresholdMinutes := threshold.Float()
	if thresholdMinutes <= 0 {
		return errorResult(contract, model.CheckFreshness, c.now, start,
			fmt.Sprintf("invalid freshness threshold: %s", threshold.String()))
	}

	lastUpdatedRaw := gjson.GetBytes(contract.Data, "dataset.last_updated")
	if !lastUpdatedRaw.Exists() {
		return errorResult(contract, model.CheckFreshness, c.now, start, "contract data missing dataset.last_updated")
	}
	lastUpdated, err := time.Parse(time.RFC3339, lastUpdatedRaw.String())
	if err != nil {
		return errorResult(contract, model.CheckFreshness, c.now, start,
			fmt.Sprintf("unparsable dataset.last_updated %q: %v", lastUpdatedRaw.String(), err))
	}

	dataAge := c.now().Sub(lastUpdated)
	ageMinutes := dataAge.Minutes()
	allowedSeconds := thresholdMinutes*60 + float64(cfg.ClockSkewToleranceSeconds)

	if dataAge.Seconds() > allowedSeconds {
		violation := &model.ViolationEvent{
			ContractName:      contract.Name,
			ContractVersion:   contract.Version,
			ViolationType:     "freshness_sla",
			Severity:          model.SeverityError,
			Message:           fmt.Sprintf("dataset for %s is stale: %.1f minutes old, threshold %.0f minutes", contract.Name, ageMinutes, thresholdMinutes),
			Element:           "dataset.last_updated",
			ExpectedValue:     fmt.Sprintf("<= %.0f minutes", thresholdMinutes),
			ActualValue:       fmt.Sprintf("%.1f minutes", ageMinutes),
			Timestamp:         c.now().UTC(),
			AffectedConsumers: consumersFromContract(contract),
			Metadata: map[string]string{
				"threshold_minutes": fmt.Sprintf("%.0f", thresholdMinutes),
				"last_updated":      lastUpdated.UTC().Format(time.RFC3339),
			},
		}
		c.logger.Warn("freshness SLA violated",
			"contract", contract.Name,
			"age_minutes", fmt.Sprintf("%.1f", ageMinutes),
			"threshold_minutes", thresholdMinutes)
		return failResult(contract, model.CheckFreshness, c.now, start, violation, map[string]any{
			"data_age_minutes":  ageMinutes,
			"threshold_minutes": thresholdMinutes,
		})
	}

	return passResult(contract, model.CheckFreshness, c.now, start, map[string]any{
		"data_age_minutes":  ageMinutes,
		"threshold_minutes": thresholdMinutes,
	})
}

// consumersFromContract extracts the deduplicated, sorted consumer list.
func consumersFromContract(contract *model.RegisteredContract) []string {
	names := gjson.GetBytes(contract.Data, "consumers.#.name")
	if !names.Exists() {
		return nil
	}
	var consumers []string
	for _, n := range names.Array() {
		consumers = append(consumers, n.String())
	}
	return model.NormalizeConsumers(consumers)
}
