package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestScheduleRejectsNonPositiveInterval(t *testing.T) {
	s := New(testLogger())
	err := s.Schedule("bad", func(ctx context.Context) error { return nil }, 0)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	err = s.Schedule("bad", func(ctx context.Context) error { return nil }, -time.Second)
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestScheduleRunsImmediatelyThenPeriodically(t *testing.T) {
	s := New(testLogger())
	defer s.CancelAll()

	var runs atomic.Int64
	err := s.Schedule("tick", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, 20*time.Millisecond)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestNoOverlapSkipsTicks(t *testing.T) {
	s := New(testLogger())
	defer s.CancelAll()

	var skips atomic.Int64
	s.OnSkip = func(string) { skips.Add(1) }

	release := make(chan struct{})
	var started sync.Once
	firstStarted := make(chan struct{})

	err := s.Schedule("slow", func(ctx context.Context) error {
		started.Do(func() { close(firstStarted) })
		<-release
		return nil
	}, 15*time.Millisecond)
	require.NoError(t, err)

	<-firstStarted
	// Let several ticks arrive while the first run blocks.
	assert.Eventually(t, func() bool { return skips.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	close(release)

	stats, ok := s.Stats("slow")
	require.True(t, ok)
	assert.GreaterOrEqual(t, stats.SkipCount, int64(2))
	assert.Equal(t, int64(1), stats.RunCount)
}

func TestRescheduleReplacesExistingTask(t *testing.T) {
	s := New(testLogger())
	defer s.CancelAll()

	var first, second atomic.Int64
	require.NoError(t, s.Schedule("job", func(ctx context.Context) error {
		first.Add(1)
		return nil
	}, 10*time.Millisecond))

	assert.Eventually(t, func() bool { return first.Load() >= 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.Schedule("job", func(ctx context.Context) error {
		second.Add(1)
		return nil
	}, 10*time.Millisecond))

	assert.Eventually(t, func() bool { return second.Load() >= 2 }, time.Second, time.Millisecond)

	// The first loop is cancelled; its counter stops moving.
	settled := first.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, first.Load())
}

func TestCancel(t *testing.T) {
	s := New(testLogger())

	require.NoError(t, s.Schedule("job", func(ctx context.Context) error { return nil }, time.Hour))
	assert.True(t, s.IsScheduled("job"))

	require.NoError(t, s.Cancel("job"))
	assert.False(t, s.IsScheduled("job"))

	assert.ErrorIs(t, s.Cancel("job"), ErrTaskNotFound)
	assert.ErrorIs(t, s.Cancel("never-existed"), ErrTaskNotFound)
}

func TestCallbackErrorsAndPanicsAreContained(t *testing.T) {
	s := New(testLogger())
	defer s.CancelAll()

	var runs atomic.Int64
	require.NoError(t, s.Schedule("flaky", func(ctx context.Context) error {
		n := runs.Add(1)
		if n == 1 {
			panic("boom")
		}
		if n == 2 {
			return errors.New("transient")
		}
		return nil
	}, 10*time.Millisecond))

	// The loop keeps ticking through a panic and an error.
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, time.Millisecond)

	stats, ok := s.Stats("flaky")
	require.True(t, ok)
	assert.GreaterOrEqual(t, stats.ErrorCount, int64(2))
}

func TestAllStatsSorted(t *testing.T) {
	s := New(testLogger())
	defer s.CancelAll()

	noop := func(ctx context.Context) error { return nil }
	require.NoError(t, s.Schedule("orders:FRESHNESS", noop, time.Hour))
	require.NoError(t, s.Schedule("billing:QUALITY", noop, time.Hour))

	stats := s.AllStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "billing:QUALITY", stats[0].Name)
	assert.Equal(t, "orders:FRESHNESS", stats[1].Name)
}
