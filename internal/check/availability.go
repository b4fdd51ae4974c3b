package check

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/contractguard/contract-monitor/internal/model"
)

// AvailabilityCheck probes the compute backing a contract. Without an
// injected prober the check reports SKIPPED rather than failing.
type AvailabilityCheck struct {
	prober Prober
	logger *slog.Logger
}

// NewAvailabilityCheck creates an availability check.
func NewAvailabilityCheck(prober Prober, logger *slog.Logger) *AvailabilityCheck {
	return &AvailabilityCheck{prober: prober, logger: logger}
}

func (c *AvailabilityCheck) CheckType() model.CheckType {
	return model.CheckAvailability
}

func (c *AvailabilityCheck) Execute(ctx context.Context, contract *model.RegisteredContract, cfg model.MonitoringConfig) model.CheckResult {
	start := time.Now()

	if c.prober == nil {
		return skippedResult(contract, model.CheckAvailability, time.Now, start,
			"no compute prober configured; availability checks require a compute plugin")
	}

	if err := c.prober.Ping(ctx); err != nil {
		violation := &model.ViolationEvent{
			ContractName:      contract.Name,
			ContractVersion:   contract.Version,
			ViolationType:     "availability",
			Severity:          model.SeverityCritical,
			Message:           fmt.Sprintf("compute %q unreachable for %s: %v", c.prober.Name(), contract.Name, err),
			Element:           c.prober.Name(),
			ExpectedValue:     "reachable",
			ActualValue:       err.Error(),
			Timestamp:         time.Now().UTC(),
			AffectedConsumers: consumersFromContract(contract),
			Metadata:          map[string]string{"prober": c.prober.Name()},
		}
		c.logger.Warn("availability probe failed",
			"contract", contract.Name,
			"prober", c.prober.Name(),
			"error", err)
		return failResult(contract, model.CheckAvailability, time.Now, start, violation, map[string]any{
			"prober": c.prober.Name(),
		})
	}

	return passResult(contract, model.CheckAvailability, time.Now, start, map[string]any{
		"prober": c.prober.Name(),
	})
}
