package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/contractguard/contract-monitor/internal/check"
	"github.com/contractguard/contract-monitor/internal/metrics"
	"github.com/contractguard/contract-monitor/internal/model"
	"github.com/contractguard/contract-monitor/internal/scheduler"
)

// ErrContractNotFound is returned by RunCheck for unregistered contracts.
var ErrContractNotFound = errors.New("monitor: contract not found")

// ContractStore persists the contract registry.
type ContractStore interface {
	UpsertContract(ctx context.Context, contract *model.RegisteredContract) error
	UpdateLastCheckTime(ctx context.Context, contractName string, checkType model.CheckType, at time.Time) error
}

// ResultStore persists check results and violations, append-only.
type ResultStore interface {
	SaveResult(ctx context.Context, result *model.CheckResult) error
	SaveViolation(ctx context.Context, violation *model.ViolationEvent) error
}

// ViolationSink routes a violation to alert channels.
type ViolationSink interface {
	Route(ctx context.Context, event *model.ViolationEvent) map[string]bool
}

// Recorder consumes the result stream for SLA/incident aggregation.
type Recorder interface {
	Record(ctx context.Context, result *model.CheckResult)
}

// LineageEmitter publishes violation run events, fire-and-forget.
type LineageEmitter interface {
	EmitViolation(ctx context.Context, event *model.ViolationEvent)
}

// Monitor owns the registry of contracts and dispatches checks to the bound
// Check implementation under a timeout. It is the downstream fan-out point:
// results are persisted, fed to the SLA aggregator, and violations routed.
type Monitor struct {
	cfg     model.MonitoringConfig
	logger  *slog.Logger
	metrics *metrics.Collector

	contracts ContractStore
	results   ResultStore
	sink      ViolationSink
	recorder  Recorder
	lineage   LineageEmitter

	mu       sync.RWMutex
	registry map[string]*model.RegisteredContract
	checks   map[model.CheckType]check.Check
}

// New creates a contract monitor. The store arguments may be nil for
// in-memory operation; sink, recorder and lineage are optional fan-outs.
func New(cfg model.MonitoringConfig, contracts ContractStore, results ResultStore, logger *slog.Logger) *Monitor {
	return &Monitor{
		cfg:       cfg,
		logger:    logger,
		contracts: contracts,
		results:   results,
		registry:  make(map[string]*model.RegisteredContract),
		checks:    make(map[model.CheckType]check.Check),
	}
}

// WithSink attaches the alert router.
func (m *Monitor) WithSink(sink ViolationSink) *Monitor {
	m.sink = sink
	return m
}

// WithRecorder attaches the SLA aggregator.
func (m *Monitor) WithRecorder(recorder Recorder) *Monitor {
	m.recorder = recorder
	return m
}

// WithLineage attaches the lineage emitter.
func (m *Monitor) WithLineage(emitter LineageEmitter) *Monitor {
	m.lineage = emitter
	return m
}

// WithMetrics attaches the metrics collector.
func (m *Monitor) WithMetrics(collector *metrics.Collector) *Monitor {
	m.metrics = collector
	return m
}

// RegisterCheck binds a check implementation to its check type.
func (m *Monitor) RegisterCheck(c check.Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[c.CheckType()] = c
}

// RegisterContract upserts a contract by name. Re-registration replaces the
// contract data but preserves accumulated last-check times.
func (m *Monitor) RegisterContract(ctx context.Context, contract *model.RegisteredContract) error {
	if contract.Name == "" {
		return fmt.Errorf("monitor: contract name is required")
	}

	cp := contract.Clone()
	if cp.RegisteredAt.IsZero() {
		cp.RegisteredAt = time.Now().UTC()
	}
	cp.Active = true
	if cp.LastCheckTimes == nil {
		cp.LastCheckTimes = make(map[model.CheckType]time.Time)
	}

	m.mu.Lock()
	if existing, ok := m.registry[cp.Name]; ok {
		for kind, ts := range existing.LastCheckTimes {
			if _, set := cp.LastCheckTimes[kind]; !set {
				cp.LastCheckTimes[kind] = ts
			}
		}
		cp.RegisteredAt = existing.RegisteredAt
	}
	m.registry[cp.Name] = cp
	active := m.activeContractCount()
	m.mu.Unlock()

	m.metrics.SetRegisteredContracts(active)

	if m.contracts != nil {
		if err := m.contracts.UpsertContract(ctx, cp); err != nil {
			return fmt.Errorf("failed to persist contract %s: %w", cp.Name, err)
		}
	}

	m.logger.Info("Contract registered", "contract", cp.Name, "version", cp.Version)
	return nil
}

// DeactivateContract flips the active flag. Contracts are never deleted.
func (m *Monitor) DeactivateContract(ctx context.Context, name string) error {
	m.mu.Lock()
	contract, ok := m.registry[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrContractNotFound, name)
	}
	contract.Active = false
	cp := contract.Clone()
	active := m.activeContractCount()
	m.mu.Unlock()

	m.metrics.SetRegisteredContracts(active)

	if m.contracts != nil {
		if err := m.contracts.UpsertContract(ctx, cp); err != nil {
			return fmt.Errorf("failed to persist contract %s: %w", name, err)
		}
	}
	m.logger.Info("Contract deactivated", "contract", name)
	return nil
}

// activeContractCount counts registry entries still flagged active, for the
// registered-contracts gauge. Caller must hold m.mu.
func (m *Monitor) activeContractCount() int {
	count := 0
	for _, contract := range m.registry {
		if contract.Active {
			count++
		}
	}
	return count
}

// Contract returns a copy of a registered contract.
func (m *Monitor) Contract(name string) (*model.RegisteredContract, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	contract, ok := m.registry[name]
	if !ok {
		return nil, false
	}
	return contract.Clone(), true
}

// Contracts returns copies of every registered contract.
func (m *Monitor) Contracts() []*model.RegisteredContract {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.RegisteredContract, 0, len(m.registry))
	for _, contract := range m.registry {
		out = append(out, contract.Clone())
	}
	return out
}

// RunCheck executes one check for one contract. The only error it returns is
// ErrContractNotFound; every execution failure is captured in the result
// status (ERROR on timeout or check failure, SKIPPED for missing
// collaborators or inactive contracts).
func (m *Monitor) RunCheck(ctx context.Context, contractName string, checkType model.CheckType) (*model.CheckResult, error) {
	m.mu.RLock()
	contract, ok := m.registry[contractName]
	var chk check.Check
	if ok {
		contract = contract.Clone()
		chk = m.checks[checkType]
	}
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContractNotFound, contractName)
	}

	var result model.CheckResult
	switch {
	case !contract.Active:
		result = model.CheckResult{
			ContractName: contractName,
			CheckType:    checkType,
			Status:       model.StatusSkipped,
			Timestamp:    time.Now().UTC(),
			Details:      map[string]any{"reason": "contract is deactivated"},
		}
	case chk == nil:
		result = model.CheckResult{
			ContractName: contractName,
			CheckType:    checkType,
			Status:       model.StatusSkipped,
			Timestamp:    time.Now().UTC(),
			Details:      map[string]any{"reason": fmt.Sprintf("no %s check implementation is wired", checkType)},
		}
	default:
		result = m.execute(ctx, chk, contract, checkType)
	}

	m.finish(ctx, contractName, checkType, &result)
	return &result, nil
}

// execute runs the check body under the configured deadline. A deadline hit
// yields an ERROR result; the check goroutine is left to finish on its own.
func (m *Monitor) execute(ctx context.Context, chk check.Check, contract *model.RegisteredContract, checkType model.CheckType) model.CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout())
	defer cancel()

	start := time.Now()
	done := make(chan model.CheckResult, 1)
	go func() {
		done <- chk.Execute(checkCtx, contract, m.cfg)
	}()

	select {
	case result := <-done:
		return result
	case <-checkCtx.Done():
		m.logger.Error("Check timed out",
			"contract", contract.Name,
			"check_type", checkType,
			"timeout_seconds", m.cfg.CheckTimeoutSeconds)
		return model.CheckResult{
			ContractName:    contract.Name,
			CheckType:       checkType,
			Status:          model.StatusError,
			DurationSeconds: time.Since(start).Seconds(),
			Timestamp:       time.Now().UTC(),
			Details: map[string]any{
				"error": fmt.Sprintf("check timed out after %ds", m.cfg.CheckTimeoutSeconds),
			},
		}
	}
}

// finish persists the result and fans it out. Failures here are logged and
// contained; the scheduler loop must keep ticking regardless.
func (m *Monitor) finish(ctx context.Context, contractName string, checkType model.CheckType, result *model.CheckResult) {
	now := result.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
		result.Timestamp = now
	}

	m.mu.Lock()
	if contract, ok := m.registry[contractName]; ok {
		contract.LastCheckTimes[checkType] = now
	}
	m.mu.Unlock()

	m.metrics.CheckExecuted(result)

	if m.results != nil {
		if err := m.results.SaveResult(ctx, result); err != nil {
			m.logger.Error("Failed to persist check result",
				"contract", contractName,
				"check_type", checkType,
				"error", err)
		}
		if result.Violation != nil {
			if err := m.results.SaveViolation(ctx, result.Violation); err != nil {
				m.logger.Error("Failed to persist violation",
					"contract", contractName,
					"error", err)
			}
		}
	}
	if m.contracts != nil {
		if err := m.contracts.UpdateLastCheckTime(ctx, contractName, checkType, now); err != nil {
			m.logger.Error("Failed to persist last check time",
				"contract", contractName,
				"check_type", checkType,
				"error", err)
		}
	}

	if m.recorder != nil {
		m.recorder.Record(ctx, result)
	}

	if result.Violation != nil {
		if m.sink != nil {
			outcome := m.sink.Route(ctx, result.Violation)
			for channelName, ok := range outcome {
				m.metrics.AlertRouted(channelName, ok)
			}
		}
		if m.lineage != nil {
			violation := result.Violation
			go m.lineage.EmitViolation(context.WithoutCancel(ctx), violation)
		}
	}

	m.logger.Debug("Check completed",
		"contract", contractName,
		"check_type", checkType,
		"status", result.Status,
		"duration_seconds", result.DurationSeconds)
}

// ScheduleContract registers the periodic task for one (contract, check
// type) pair on the scheduler. Task names follow "contract:check_type".
func (m *Monitor) ScheduleContract(sched *scheduler.Scheduler, contractName string, checkType model.CheckType, interval time.Duration) error {
	taskName := TaskName(contractName, checkType)
	return sched.Schedule(taskName, func(ctx context.Context) error {
		_, err := m.RunCheck(ctx, contractName, checkType)
		return err
	}, interval)
}

// TaskName builds the scheduler task name for a (contract, check type) pair.
func TaskName(contractName string, checkType model.CheckType) string {
	return fmt.Sprintf("%s:%s", contractName, checkType)
}
