package engine

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/open-outreach/internal/db"
	"github.com/jonathan/open-outreach/internal/touchpoint"
)

func newTestPool(store *memStore, executor touchpoint.Executor, limits QuotaLimits, threshold int) *Pool {
	return NewPool(
		store, store,
		NewLockManager(),
		NewQuotaTracker(limits),
		NewBreaker(store, threshold),
		executor,
		PoolConfig{
			Workers:         2,
			PollInterval:    10 * time.Millisecond,
			BatchSize:       10,
			ExecutorTimeout: time.Second,
		},
	)
}

func succeedingExecutor(calls *atomic.Int32) touchpoint.Executor {
	return touchpoint.ExecutorFunc(func(_ context.Context, _ string, _ touchpoint.Type, _ map[string]any) (*touchpoint.Result, error) {
		if calls != nil {
			calls.Add(1)
		}
		return &touchpoint.Result{Data: map[string]any{"status": "sent"}}, nil
	})
}

func connectInput() map[string]any {
	return map[string]any{"type": "connect", "url": "https://www.linkedin.com/in/test/"}
}

func TestProcessCompletesRun(t *testing.T) {
	store := newMemStore()
	store.addAccount("alice")
	run := store.addPending("alice", "connect", connectInput())

	pool := newTestPool(store, succeedingExecutor(nil), QuotaLimits{Connect: 5}, 3)
	pool.dispatchPending(context.Background())

	got := store.getRun(run.RunID)
	assert.Equal(t, db.StatusCompleted, got.Status)
	assert.Equal(t, map[string]any{"status": "sent"}, got.Result)
	assert.Nil(t, got.Error)

	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.DurationMs)
	assert.False(t, got.CreatedAt.After(*got.StartedAt), "created_at must not exceed started_at")
	assert.False(t, got.StartedAt.After(*got.CompletedAt), "started_at must not exceed completed_at")

	// Success consumed quota and the lock is free again
	assert.Equal(t, 1, pool.quota.Used("alice", touchpoint.CategoryConnect))
	_, held := pool.locks.Holder("alice")
	assert.False(t, held)
}

func TestProcessSingleFlightPerHandle(t *testing.T) {
	store := newMemStore()
	store.addAccount("alice")
	first := store.addPending("alice", "connect", connectInput())
	second := store.addPending("alice", "connect", connectInput())

	release := make(chan struct{})
	started := make(chan string, 2)
	executor := touchpoint.ExecutorFunc(func(_ context.Context, handle string, _ touchpoint.Type, input map[string]any) (*touchpoint.Result, error) {
		started <- handle
		<-release
		return &touchpoint.Result{Data: map[string]any{"ok": true}}, nil
	})

	pool := newTestPool(store, executor, QuotaLimits{Connect: 10}, 3)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.dispatchPending(ctx)
	}()

	// Wait until the first run is mid-execution and holding the handle lock
	<-started

	// A second dispatch must skip both: the handle is busy
	pool.dispatchPending(ctx)
	assert.Equal(t, db.StatusPending, store.getRun(second.RunID).Status,
		"later run must stay pending while an earlier run holds the handle")

	close(release)
	<-done

	// The dispatching goroutine processed both in FIFO order once the lock freed
	runs := store.runsFor("alice")
	require.Len(t, runs, 2)
	assert.Equal(t, first.RunID, runs[0].RunID)
	assert.Equal(t, db.StatusCompleted, runs[0].Status)
	assert.Equal(t, db.StatusCompleted, runs[1].Status)
	assert.False(t, runs[1].StartedAt.Before(*runs[0].CompletedAt),
		"same-handle runs must execute in created_at order")
}

func TestProcessSkipsBusyHandleButNotOthers(t *testing.T) {
	store := newMemStore()
	store.addAccount("alice")
	store.addAccount("bob")
	blocked := store.addPending("alice", "connect", connectInput())
	other := store.addPending("bob", "connect", connectInput())

	pool := newTestPool(store, succeedingExecutor(nil), QuotaLimits{Connect: 10}, 3)

	// Simulate another worker holding alice's lock
	require.True(t, pool.locks.TryAcquire("alice", blocked.RunID))
	pool.dispatchPending(context.Background())

	assert.Equal(t, db.StatusPending, store.getRun(blocked.RunID).Status)
	assert.Equal(t, db.StatusCompleted, store.getRun(other.RunID).Status,
		"a busy handle must not block other handles")
}

func TestProcessQuotaExceeded(t *testing.T) {
	store := newMemStore()
	store.addAccount("alice")
	first := store.addPending("alice", "connect", connectInput())
	second := store.addPending("alice", "connect", connectInput())

	var calls atomic.Int32
	pool := newTestPool(store, succeedingExecutor(&calls), QuotaLimits{Connect: 1}, 3)
	pool.dispatchPending(context.Background())

	assert.Equal(t, db.StatusCompleted, store.getRun(first.RunID).Status)

	got := store.getRun(second.RunID)
	assert.Equal(t, db.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.True(t, strings.HasPrefix(*got.Error, ReasonQuotaExceeded), "error = %q", *got.Error)
	assert.Nil(t, got.StartedAt, "rejected run never starts executing")
	assert.Equal(t, int32(1), calls.Load(), "executor must not run for a quota rejection")

	// Quota rejections are not breaker failures
	acc, _ := store.GetAccount(context.Background(), "alice")
	assert.Equal(t, 0, acc.ConsecutiveFailures)
}

func TestProcessAccountOverrideBeatsConfigLimit(t *testing.T) {
	store := newMemStore()
	acc := store.addAccount("alice")
	acc.DailyConnections = 1

	store.addPending("alice", "connect", connectInput())
	second := store.addPending("alice", "connect", connectInput())

	pool := newTestPool(store, succeedingExecutor(nil), QuotaLimits{Connect: 50}, 3)
	pool.dispatchPending(context.Background())

	got := store.getRun(second.RunID)
	assert.Equal(t, db.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.True(t, strings.HasPrefix(*got.Error, ReasonQuotaExceeded))
}

func TestProcessAccountPaused(t *testing.T) {
	store := newMemStore()
	acc := store.addAccount("alice")
	acc.Paused = true
	reason := "too_many_failures"
	acc.PausedReason = &reason

	run := store.addPending("alice", "connect", connectInput())

	var calls atomic.Int32
	pool := newTestPool(store, succeedingExecutor(&calls), QuotaLimits{Connect: 10}, 3)
	pool.dispatchPending(context.Background())

	got := store.getRun(run.RunID)
	assert.Equal(t, db.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.True(t, strings.HasPrefix(*got.Error, ReasonAccountPaused), "error = %q", *got.Error)
	assert.Contains(t, *got.Error, "too_many_failures")
	assert.Nil(t, got.StartedAt)
	assert.Equal(t, int32(0), calls.Load())

	// Pause rejections must not compound the failure counter
	assert.Equal(t, 0, store.accounts["alice"].ConsecutiveFailures)
}

func TestProcessBreakerTripsAndManualReset(t *testing.T) {
	store := newMemStore()
	store.addAccount("alice")

	var calls atomic.Int32
	failing := touchpoint.ExecutorFunc(func(_ context.Context, _ string, _ touchpoint.Type, _ map[string]any) (*touchpoint.Result, error) {
		calls.Add(1)
		return nil, &touchpoint.ExecError{Kind: touchpoint.KindUIChanged, Message: "selector missing"}
	})

	pool := newTestPool(store, failing, QuotaLimits{Connect: 100}, 3)
	ctx := context.Background()

	// Three consecutive execution failures trip the breaker
	for i := 0; i < 3; i++ {
		run := store.addPending("alice", "connect", connectInput())
		pool.dispatchPending(ctx)
		got := store.getRun(run.RunID)
		assert.Equal(t, db.StatusFailed, got.Status)
		assert.True(t, strings.HasPrefix(*got.Error, ReasonExecutionError))
		assert.Contains(t, *got.Error, touchpoint.KindUIChanged)
	}
	assert.True(t, store.accounts["alice"].Paused)

	// With the account paused, the executor is never invoked
	fourth := store.addPending("alice", "connect", connectInput())
	pool.dispatchPending(ctx)
	got := store.getRun(fourth.RunID)
	assert.Equal(t, db.StatusFailed, got.Status)
	assert.True(t, strings.HasPrefix(*got.Error, ReasonAccountPaused))
	assert.Equal(t, int32(3), calls.Load())

	// Manual reset, then a success clears the streak
	cleared, err := pool.breaker.ResetPause(ctx, "alice")
	require.NoError(t, err)
	require.True(t, cleared)

	pool.executor = succeedingExecutor(nil)
	fifth := store.addPending("alice", "connect", connectInput())
	pool.dispatchPending(ctx)
	assert.Equal(t, db.StatusCompleted, store.getRun(fifth.RunID).Status)
	assert.Equal(t, 0, store.accounts["alice"].ConsecutiveFailures)
	assert.False(t, store.accounts["alice"].Paused)
}

func TestProcessTimeout(t *testing.T) {
	store := newMemStore()
	store.addAccount("alice")
	run := store.addPending("alice", "connect", connectInput())

	hanging := touchpoint.ExecutorFunc(func(ctx context.Context, _ string, _ touchpoint.Type, _ map[string]any) (*touchpoint.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	pool := newTestPool(store, hanging, QuotaLimits{Connect: 10}, 3)
	pool.cfg.ExecutorTimeout = 20 * time.Millisecond
	pool.dispatchPending(context.Background())

	got := store.getRun(run.RunID)
	assert.Equal(t, db.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.True(t, strings.HasPrefix(*got.Error, ReasonTimeout), "error = %q", *got.Error)

	// The lock must be observably free immediately after the timeout path
	_, held := pool.locks.Holder("alice")
	assert.False(t, held)

	// Timeouts count as execution failures
	assert.Equal(t, 1, store.accounts["alice"].ConsecutiveFailures)
}

func TestProcessTimeoutReleasesLockWhenExecutorIgnoresContext(t *testing.T) {
	store := newMemStore()
	store.addAccount("alice")
	run := store.addPending("alice", "connect", connectInput())

	// An executor that never looks at its context, e.g. a wedged browser call
	finished := make(chan struct{})
	stubborn := touchpoint.ExecutorFunc(func(_ context.Context, _ string, _ touchpoint.Type, _ map[string]any) (*touchpoint.Result, error) {
		defer close(finished)
		time.Sleep(500 * time.Millisecond)
		return &touchpoint.Result{Data: map[string]any{"status": "sent"}}, nil
	})

	pool := newTestPool(store, stubborn, QuotaLimits{Connect: 10}, 3)
	pool.cfg.ExecutorTimeout = 20 * time.Millisecond

	start := time.Now()
	pool.dispatchPending(context.Background())
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 400*time.Millisecond,
		"dispatch must return at the deadline, not when the executor gives up")

	got := store.getRun(run.RunID)
	assert.Equal(t, db.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.True(t, strings.HasPrefix(*got.Error, ReasonTimeout), "error = %q", *got.Error)
	assert.Equal(t, 1, store.accounts["alice"].ConsecutiveFailures)

	_, held := pool.locks.Holder("alice")
	assert.False(t, held, "handle lock must be free once the timeout elapses")

	// The abandoned call's late success must not revive the failed run
	<-finished
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, db.StatusFailed, store.getRun(run.RunID).Status,
		"a late executor result must be discarded")
	assert.Equal(t, 0, pool.quota.Used("alice", touchpoint.CategoryConnect))
}

func TestProcessUnknownAccount(t *testing.T) {
	store := newMemStore()
	run := store.addPending("ghost", "connect", connectInput())

	var calls atomic.Int32
	pool := newTestPool(store, succeedingExecutor(&calls), QuotaLimits{Connect: 10}, 3)
	pool.dispatchPending(context.Background())

	got := store.getRun(run.RunID)
	assert.Equal(t, db.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.True(t, strings.HasPrefix(*got.Error, ReasonInternalError))
	assert.Equal(t, int32(0), calls.Load())
}

func TestProcessSkipsAlreadyClaimedRun(t *testing.T) {
	store := newMemStore()
	store.addAccount("alice")
	run := store.addPending("alice", "connect", connectInput())

	// Another worker claimed the run between our dequeue and our claim
	claimed, err := store.MarkRunRunning(context.Background(), run.RunID)
	require.NoError(t, err)
	require.True(t, claimed)

	var calls atomic.Int32
	pool := newTestPool(store, succeedingExecutor(&calls), QuotaLimits{Connect: 10}, 3)
	stale := *run
	pool.process(context.Background(), &stale)

	assert.Equal(t, int32(0), calls.Load(), "a lost claim must not execute")
	assert.Equal(t, db.StatusRunning, store.getRun(run.RunID).Status)
	_, held := pool.locks.Holder("alice")
	assert.False(t, held)
}

func TestPoolRunStopsOnCancel(t *testing.T) {
	store := newMemStore()
	store.addAccount("alice")
	run := store.addPending("alice", "connect", connectInput())

	pool := newTestPool(store, succeedingExecutor(nil), QuotaLimits{Connect: 10}, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return store.getRun(run.RunID).Status == db.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancellation")
	}
}
