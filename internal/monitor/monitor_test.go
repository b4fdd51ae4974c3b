package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractguard/contract-monitor/internal/channel"
	"github.com/contractguard/contract-monitor/internal/check"
	"github.com/contractguard/contract-monitor/internal/model"
	"github.com/contractguard/contract-monitor/internal/router"
	"github.com/contractguard/contract-monitor/internal/scheduler"
	"github.com/contractguard/contract-monitor/internal/sla"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type memoryStores struct {
	mu             sync.Mutex
	contracts      map[string]*model.RegisteredContract
	results        []*model.CheckResult
	violations     []*model.ViolationEvent
	lastCheckCalls int
}

func newMemoryStores() *memoryStores {
	return &memoryStores{contracts: make(map[string]*model.RegisteredContract)}
}

func (s *memoryStores) UpsertContract(ctx context.Context, contract *model.RegisteredContract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[contract.Name] = contract
	return nil
}

func (s *memoryStores) UpdateLastCheckTime(ctx context.Context, contractName string, checkType model.CheckType, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheckCalls++
	return nil
}

func (s *memoryStores) SaveResult(ctx context.Context, result *model.CheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

func (s *memoryStores) SaveViolation(ctx context.Context, violation *model.ViolationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations = append(s.violations, violation)
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	routed []*model.ViolationEvent
}

func (f *fakeSink) Route(ctx context.Context, event *model.ViolationEvent) map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routed = append(f.routed, event)
	return map[string]bool{"slack": true}
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []*model.CheckResult
}

func (f *fakeRecorder) Record(ctx context.Context, result *model.CheckResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
}

type stubCheck struct {
	kind    model.CheckType
	execute func(ctx context.Context, contract *model.RegisteredContract) model.CheckResult
}

func (s *stubCheck) CheckType() model.CheckType { return s.kind }

func (s *stubCheck) Execute(ctx context.Context, contract *model.RegisteredContract, cfg model.MonitoringConfig) model.CheckResult {
	return s.execute(ctx, contract)
}

func testConfig() model.MonitoringConfig {
	return model.MonitoringConfig{CheckTimeoutSeconds: 1, ClockSkewToleranceSeconds: 0}
}

func TestRunCheckUnknownContract(t *testing.T) {
	m := New(testConfig(), nil, nil, testLogger())
	_, err := m.RunCheck(context.Background(), "ghost", model.CheckFreshness)
	assert.ErrorIs(t, err, ErrContractNotFound)
}

func TestRegisterContractRequiresName(t *testing.T) {
	m := New(testConfig(), nil, nil, testLogger())
	err := m.RegisterContract(context.Background(), &model.RegisteredContract{})
	assert.Error(t, err)
}

func TestRegisterContractUpsertPreservesCheckTimes(t *testing.T) {
	m := New(testConfig(), nil, nil, testLogger())
	ctx := context.Background()

	require.NoError(t, m.RegisterContract(ctx, &model.RegisteredContract{Name: "orders", Version: "1.0.0"}))
	m.RegisterCheck(&stubCheck{kind: model.CheckFreshness, execute: func(ctx context.Context, c *model.RegisteredContract) model.CheckResult {
		return model.CheckResult{ContractName: c.Name, CheckType: model.CheckFreshness, Status: model.StatusPass, Timestamp: time.Now().UTC()}
	}})

	_, err := m.RunCheck(ctx, "orders", model.CheckFreshness)
	require.NoError(t, err)

	before, _ := m.Contract("orders")
	require.Contains(t, before.LastCheckTimes, model.CheckFreshness)

	// Re-registering with a new version keeps the accumulated check times.
	require.NoError(t, m.RegisterContract(ctx, &model.RegisteredContract{Name: "orders", Version: "2.0.0"}))
	after, ok := m.Contract("orders")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", after.Version)
	assert.Equal(t, before.LastCheckTimes[model.CheckFreshness], after.LastCheckTimes[model.CheckFreshness])
	assert.Equal(t, before.RegisteredAt, after.RegisteredAt)
}

func TestRunCheckInactiveContractSkipped(t *testing.T) {
	m := New(testConfig(), nil, nil, testLogger())
	ctx := context.Background()

	require.NoError(t, m.RegisterContract(ctx, &model.RegisteredContract{Name: "orders"}))
	require.NoError(t, m.DeactivateContract(ctx, "orders"))

	result, err := m.RunCheck(ctx, "orders", model.CheckFreshness)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkipped, result.Status)
	assert.Contains(t, result.Details["reason"], "deactivated")
}

func TestRunCheckNoImplementationSkipped(t *testing.T) {
	m := New(testConfig(), nil, nil, testLogger())
	ctx := context.Background()

	require.NoError(t, m.RegisterContract(ctx, &model.RegisteredContract{Name: "orders"}))

	result, err := m.RunCheck(ctx, "orders", model.CheckAvailability)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkipped, result.Status)
}

func TestRunCheckTimeoutYieldsError(t *testing.T) {
	m := New(testConfig(), nil, nil, testLogger())
	ctx := context.Background()

	require.NoError(t, m.RegisterContract(ctx, &model.RegisteredContract{Name: "orders"}))
	m.RegisterCheck(&stubCheck{kind: model.CheckQuality, execute: func(ctx context.Context, c *model.RegisteredContract) model.CheckResult {
		<-ctx.Done()
		return model.CheckResult{ContractName: c.Name, CheckType: model.CheckQuality, Status: model.StatusPass}
	}})

	result, err := m.RunCheck(ctx, "orders", model.CheckQuality)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, result.Status)
	assert.Contains(t, result.Details["error"], "timed out")
}

func TestRunCheckPersistsAndFansOut(t *testing.T) {
	stores := newMemoryStores()
	sink := &fakeSink{}
	recorder := &fakeRecorder{}

	m := New(testConfig(), stores, stores, testLogger()).
		WithSink(sink).
		WithRecorder(recorder)
	ctx := context.Background()

	require.NoError(t, m.RegisterContract(ctx, &model.RegisteredContract{Name: "orders", Version: "1.0.0"}))
	m.RegisterCheck(&stubCheck{kind: model.CheckFreshness, execute: func(ctx context.Context, c *model.RegisteredContract) model.CheckResult {
		violation := &model.ViolationEvent{
			ContractName:  c.Name,
			ViolationType: "freshness_sla",
			Severity:      model.SeverityError,
			Message:       "stale",
			Timestamp:     time.Now().UTC(),
		}
		return model.CheckResult{
			ContractName: c.Name,
			CheckType:    model.CheckFreshness,
			Status:       model.StatusFail,
			Timestamp:    time.Now().UTC(),
			Violation:    violation,
		}
	}})

	result, err := m.RunCheck(ctx, "orders", model.CheckFreshness)
	require.NoError(t, err)
	require.Equal(t, model.StatusFail, result.Status)

	assert.Len(t, stores.results, 1)
	assert.Len(t, stores.violations, 1)
	assert.Equal(t, 1, stores.lastCheckCalls)
	assert.Len(t, sink.routed, 1)
	assert.Len(t, recorder.results, 1)
}

func TestRunCheckPassDoesNotRoute(t *testing.T) {
	sink := &fakeSink{}
	m := New(testConfig(), nil, nil, testLogger()).WithSink(sink)
	ctx := context.Background()

	require.NoError(t, m.RegisterContract(ctx, &model.RegisteredContract{Name: "orders"}))
	m.RegisterCheck(&stubCheck{kind: model.CheckFreshness, execute: func(ctx context.Context, c *model.RegisteredContract) model.CheckResult {
		return model.CheckResult{ContractName: c.Name, CheckType: model.CheckFreshness, Status: model.StatusPass, Timestamp: time.Now().UTC()}
	}})

	_, err := m.RunCheck(ctx, "orders", model.CheckFreshness)
	require.NoError(t, err)
	assert.Empty(t, sink.routed)
}

func TestDeactivateUnknownContract(t *testing.T) {
	m := New(testConfig(), nil, nil, testLogger())
	err := m.DeactivateContract(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrContractNotFound)
}

func TestTaskName(t *testing.T) {
	assert.Equal(t, "orders:FRESHNESS", TaskName("orders", model.CheckFreshness))
}

// End to end: a real freshness check over stale contract data must produce a
// FAIL result, persist the violation and hand it to the sink.
func TestFreshnessEndToEnd(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stores := newMemoryStores()
	sink := &fakeSink{}

	cfg := model.MonitoringConfig{CheckTimeoutSeconds: 5, ClockSkewToleranceSeconds: 0}
	m := New(cfg, stores, stores, testLogger()).WithSink(sink)
	ctx := context.Background()

	data, _ := json.Marshal(map[string]any{
		"sla":     map[string]any{"freshness": map[string]any{"threshold_minutes": 60}},
		"dataset": map[string]any{"last_updated": now.Add(-2 * time.Hour).Format(time.RFC3339)},
	})
	require.NoError(t, m.RegisterContract(ctx, &model.RegisteredContract{Name: "orders", Version: "1.0.0", Data: data}))

	m.RegisterCheck(check.NewFreshnessCheck(testLogger()).WithClock(func() time.Time { return now }))

	result, err := m.RunCheck(ctx, "orders", model.CheckFreshness)
	require.NoError(t, err)
	require.Equal(t, model.StatusFail, result.Status)
	require.NotNil(t, result.Violation)
	assert.Equal(t, "freshness_sla", result.Violation.ViolationType)

	require.Len(t, sink.routed, 1)
	assert.Equal(t, "orders", sink.routed[0].ContractName)
	assert.Len(t, stores.violations, 1)
}

func TestDeactivateContractExcludedFromActiveCount(t *testing.T) {
	m := New(testConfig(), nil, nil, testLogger())
	ctx := context.Background()

	activeCount := func() int {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.activeContractCount()
	}

	require.NoError(t, m.RegisterContract(ctx, &model.RegisteredContract{Name: "orders"}))
	require.NoError(t, m.RegisterContract(ctx, &model.RegisteredContract{Name: "billing"}))
	assert.Equal(t, 2, activeCount())

	require.NoError(t, m.DeactivateContract(ctx, "orders"))
	assert.Equal(t, 1, activeCount())

	// Re-registration reactivates.
	require.NoError(t, m.RegisterContract(ctx, &model.RegisteredContract{Name: "orders"}))
	assert.Equal(t, 2, activeCount())
}

type pipelineChannel struct {
	mu    sync.Mutex
	sends []*model.ViolationEvent
}

func (p *pipelineChannel) Name() string             { return "slack" }
func (p *pipelineChannel) ValidateConfig() []string { return nil }

func (p *pipelineChannel) SendAlert(ctx context.Context, event *model.ViolationEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends = append(p.sends, event)
	return true
}

func (p *pipelineChannel) sendCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sends)
}

// Full pipeline: scheduler ticks drive a real freshness check through the
// monitor, the alert router and the SLA aggregator. Passing ticks stay quiet;
// once the shared clock jumps past the threshold the next tick delivers
// exactly one alert and opens exactly one incident, and repeat failures are
// deduplicated.
func TestScheduledFreshnessPipeline(t *testing.T) {
	var clockMu sync.Mutex
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return current
	}

	stores := newMemoryStores()
	slack := &pipelineChannel{}

	alertCfg := model.AlertConfig{
		RoutingRules:           []model.RoutingRule{{ChannelName: "slack", MinSeverity: model.SeverityInfo}},
		DedupWindowMinutes:     60,
		RateLimitWindowMinutes: 60,
		RateLimitPerContract:   10,
	}
	alerts := router.New(alertCfg, []channel.Channel{slack}, router.NewMemoryDedupStore(), testLogger()).
		WithClock(clock)
	aggregator := sla.NewAggregator(nil, testLogger()).WithClock(clock)

	m := New(testConfig(), stores, stores, testLogger()).
		WithSink(alerts).
		WithRecorder(aggregator)
	m.RegisterCheck(check.NewFreshnessCheck(testLogger()).WithClock(clock))

	data, _ := json.Marshal(map[string]any{
		"sla":     map[string]any{"freshness": map[string]any{"threshold_minutes": 10}},
		"dataset": map[string]any{"last_updated": current.Format(time.RFC3339)},
	})
	ctx := context.Background()
	require.NoError(t, m.RegisterContract(ctx, &model.RegisteredContract{Name: "orders", Version: "1.0.0", Data: data}))

	sched := scheduler.New(testLogger())
	defer sched.CancelAll()
	require.NoError(t, m.ScheduleContract(sched, "orders", model.CheckFreshness, 50*time.Millisecond))

	taskName := TaskName("orders", model.CheckFreshness)
	runCount := func() int64 {
		stats, ok := sched.Stats(taskName)
		if !ok {
			return 0
		}
		return stats.RunCount
	}

	// Fresh data: ticks keep passing, nothing is alerted or opened.
	require.Eventually(t, func() bool { return runCount() >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, slack.sendCount())
	assert.Empty(t, aggregator.OpenIncidents())

	// Jump past the freshness threshold; the next tick must fail.
	clockMu.Lock()
	current = current.Add(11 * time.Minute)
	clockMu.Unlock()

	require.Eventually(t, func() bool { return slack.sendCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Further failing ticks are deduplicated, not re-alerted.
	settled := runCount()
	require.Eventually(t, func() bool { return runCount() >= settled+2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, slack.sendCount())

	incidents := aggregator.OpenIncidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, "orders", incidents[0].ContractName)
	assert.Equal(t, model.IncidentOpen, incidents[0].Status)

	stores.mu.Lock()
	defer stores.mu.Unlock()
	var failures int
	for _, result := range stores.results {
		if result.Status == model.StatusFail {
			failures++
		}
	}
	assert.GreaterOrEqual(t, failures, 1)
	assert.GreaterOrEqual(t, len(stores.violations), 1)
}
