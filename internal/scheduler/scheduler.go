package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	// ErrInvalidInterval is returned by Schedule for non-positive intervals.
	ErrInvalidInterval = errors.New("scheduler: interval must be positive")
	// ErrTaskNotFound is returned by Cancel for unknown task names.
	ErrTaskNotFound = errors.New("scheduler: task not found")
)

// Callback is the unit of work a scheduled task runs on every tick.
type Callback func(ctx context.Context) error

// Scheduler drives named periodic tasks. Each task runs in its own goroutine
// with a strict no-overlap guard: a tick that arrives while the previous run
// is still in flight is skipped, never queued.
type Scheduler struct {
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*task

	// OnSkip is invoked (outside the lock) whenever a tick is skipped
	// because the previous run is still in flight. Optional.
	OnSkip func(taskName string)
}

type task struct {
	name     string
	interval time.Duration
	callback Callback

	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	runCount   int64
	skipCount  int64
	errorCount int64
	lastRun    time.Time
}

// TaskStats is a point-in-time snapshot of one task's counters.
type TaskStats struct {
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	Running    bool          `json:"running"`
	RunCount   int64         `json:"run_count"`
	SkipCount  int64         `json:"skip_count"`
	ErrorCount int64         `json:"error_count"`
	LastRun    time.Time     `json:"last_run"`
}

// New creates a scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		tasks:  make(map[string]*task),
	}
}

// Schedule starts a periodic task. The callback runs once immediately, then
// after every interval. Scheduling a name that is already registered cancels
// the existing loop first (replace-on-reschedule).
func (s *Scheduler) Schedule(name string, callback Callback, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	s.mu.Lock()
	if existing, ok := s.tasks[name]; ok {
		existing.cancel()
		s.logger.Info("Replacing scheduled task", "task", name, "interval", interval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		name:     name,
		interval: interval,
		callback: callback,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.tasks[name] = t
	s.mu.Unlock()

	go s.loop(ctx, t)

	s.logger.Debug("Task scheduled", "task", name, "interval", interval)
	return nil
}

// Cancel stops future ticks of a task. An in-flight execution is not
// interrupted; it finishes and clears its running marker on completion.
func (s *Scheduler) Cancel(name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	delete(s.tasks, name)
	s.mu.Unlock()

	t.cancel()
	s.logger.Info("Task cancelled", "task", name)
	return nil
}

// CancelAll cancels every scheduled task, best effort.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	s.logger.Info("All tasks cancelled", "count", len(tasks))
}

// IsScheduled reports whether a task name is currently registered.
func (s *Scheduler) IsScheduled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// RunningTasks returns the names of tasks with an execution in flight.
func (s *Scheduler) RunningTasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var running []string
	for name, t := range s.tasks {
		if t.running {
			running = append(running, name)
		}
	}
	sort.Strings(running)
	return running
}

// Stats returns a snapshot for one task, or false if it is not scheduled.
func (s *Scheduler) Stats(name string) (TaskStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[name]
	if !ok {
		return TaskStats{}, false
	}
	return snapshot(t), true
}

// AllStats returns snapshots for every scheduled task, sorted by name.
func (s *Scheduler) AllStats() []TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStats, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, snapshot(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func snapshot(t *task) TaskStats {
	return TaskStats{
		Name:       t.name,
		Interval:   t.interval,
		Running:    t.running,
		RunCount:   t.runCount,
		SkipCount:  t.skipCount,
		ErrorCount: t.errorCount,
		LastRun:    t.lastRun,
	}
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	defer close(t.done)

	s.tick(ctx, t)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

// tick runs one execution unless the previous one is still in flight. The
// running flag is owned by the scheduler mutex; the callback itself runs
// with no lock held.
func (s *Scheduler) tick(ctx context.Context, t *task) {
	s.mu.Lock()
	if t.running {
		t.skipCount++
		skips := t.skipCount
		s.mu.Unlock()
		s.logger.Warn("Skipping tick, previous run still in flight",
			"task", t.name,
			"skip_count", skips)
		if s.OnSkip != nil {
			s.OnSkip(t.name)
		}
		return
	}
	t.running = true
	t.runCount++
	t.lastRun = time.Now()
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.recordError(t)
			s.logger.Error("Scheduled task panicked", "task", t.name, "panic", r)
		}
		s.mu.Lock()
		t.running = false
		s.mu.Unlock()
	}()

	if err := t.callback(ctx); err != nil {
		s.recordError(t)
		s.logger.Error("Scheduled task failed", "task", t.name, "error", err)
	}
}

func (s *Scheduler) recordError(t *task) {
	s.mu.Lock()
	t.errorCount++
	s.mu.Unlock()
}
