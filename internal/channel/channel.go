package channel

import (
	"context"

	"github.com/contractguard/contract-monitor/internal/model"
)

// Channel delivers violation alerts to one destination. SendAlert reports
// success as a bool and must never panic outward; transport errors are
// logged by the implementation.
type Channel interface {
	Name() string
	ValidateConfig() []string
	SendAlert(ctx context.Context, event *model.ViolationEvent) bool
}
