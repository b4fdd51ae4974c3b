package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DedupStateStore prunes persisted alert-dedup entries.
type DedupStateStore interface {
	DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

// ResultStore prunes aged check results.
type ResultStore interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AggregateStore rolls daily SLA aggregates up from the result stream.
type AggregateStore interface {
	RollupDaily(ctx context.Context, day time.Time) error
}

// MaintenanceConfig controls the cron-driven housekeeping jobs.
type MaintenanceConfig struct {
	Enabled              bool
	DedupCleanupSchedule string
	DailyRollupSchedule  string
	RetentionSchedule    string
	DedupRetention       time.Duration
	ResultRetentionDays  int
}

// Maintenance runs periodic housekeeping on cron schedules: pruning expired
// dedup state, rolling up daily SLA aggregates and sweeping old results.
type Maintenance struct {
	cfg     MaintenanceConfig
	logger  *slog.Logger
	cron    *cron.Cron
	dedup   DedupStateStore
	results ResultStore
	slas    AggregateStore
}

// NewMaintenance creates the maintenance scheduler. Store arguments may be
// nil; the corresponding job is not registered.
func NewMaintenance(cfg MaintenanceConfig, dedup DedupStateStore, results ResultStore, slas AggregateStore, logger *slog.Logger) *Maintenance {
	return &Maintenance{
		cfg:     cfg,
		logger:  logger,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		dedup:   dedup,
		results: results,
		slas:    slas,
	}
}

// Start registers and starts the enabled jobs.
func (m *Maintenance) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.logger.Info("Maintenance scheduler disabled")
		return nil
	}

	if m.dedup != nil {
		if _, err := m.cron.AddFunc(m.cfg.DedupCleanupSchedule, func() { m.cleanupDedupState(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule dedup cleanup: %w", err)
		}
	}
	if m.slas != nil {
		if _, err := m.cron.AddFunc(m.cfg.DailyRollupSchedule, func() { m.rollupDaily(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule daily rollup: %w", err)
		}
	}
	if m.results != nil {
		if _, err := m.cron.AddFunc(m.cfg.RetentionSchedule, func() { m.sweepResults(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule retention sweep: %w", err)
		}
	}

	m.cron.Start()
	m.logger.Info("Maintenance scheduler started", "jobs", len(m.cron.Entries()))
	return nil
}

// Stop stops the cron scheduler and waits for running jobs.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info("Maintenance scheduler stopped")
}

func (m *Maintenance) cleanupDedupState(ctx context.Context) {
	cutoff := time.Now().Add(-m.cfg.DedupRetention)
	deleted, err := m.dedup.DeleteExpired(ctx, cutoff)
	if err != nil {
		m.logger.Error("Dedup state cleanup failed", "error", err)
		return
	}
	m.logger.Debug("Dedup state cleaned up", "deleted", deleted)
}

func (m *Maintenance) rollupDaily(ctx context.Context) {
	day := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	if err := m.slas.RollupDaily(ctx, day); err != nil {
		m.logger.Error("Daily SLA rollup failed", "day", day.Format("2006-01-02"), "error", err)
		return
	}
	m.logger.Debug("Daily SLA rollup complete", "day", day.Format("2006-01-02"))
}

func (m *Maintenance) sweepResults(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -m.cfg.ResultRetentionDays)
	deleted, err := m.results.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		m.logger.Error("Result retention sweep failed", "error", err)
		return
	}
	m.logger.Debug("Result retention sweep complete", "deleted", deleted)
}
