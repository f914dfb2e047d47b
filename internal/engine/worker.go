package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/open-outreach/internal/db"
	"github.com/jonathan/open-outreach/internal/touchpoint"
)

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Workers         int
	PollInterval    time.Duration
	BatchSize       int
	ExecutorTimeout time.Duration
}

// Pool turns pending runs into terminal runs. A fixed set of workers each
// poll the run store oldest-first, take the handle lock, gate on breaker and
// quota, invoke the executor under a bounded timeout, and record the outcome.
// Cross-account work is fully parallel; per-account work is serialized by the
// lock, and skip-on-busy keeps one handle's backlog from blocking others.
type Pool struct {
	runs     RunStore
	accounts AccountStore
	locks    *LockManager
	quota    *QuotaTracker
	breaker  *Breaker
	executor touchpoint.Executor
	cfg      PoolConfig
}

// NewPool creates a worker pool.
func NewPool(runs RunStore, accounts AccountStore, locks *LockManager, quota *QuotaTracker,
	breaker *Breaker, executor touchpoint.Executor, cfg PoolConfig,
) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	return &Pool{
		runs:     runs,
		accounts: accounts,
		locks:    locks,
		quota:    quota,
		breaker:  breaker,
		executor: executor,
		cfg:      cfg,
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			p.workerLoop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		p.dispatchPending(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatchPending processes one batch of pending runs, oldest first.
// Selection is not exclusive across workers; the handle lock is the sole
// arbiter, and the conditional claim in the store backstops it.
func (p *Pool) dispatchPending(ctx context.Context) {
	runs, err := p.runs.ListPendingRuns(ctx, p.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("Worker: failed to list pending runs: %v", err)
		}
		return
	}

	for i := range runs {
		if ctx.Err() != nil {
			return
		}
		p.process(ctx, &runs[i])
	}
}

// process drives a single pending run to a terminal state, or leaves it
// pending when the handle is busy or the store is unavailable.
func (p *Pool) process(ctx context.Context, run *db.Run) {
	if !p.locks.TryAcquire(run.Handle, run.RunID) {
		// Another run holds this handle; retry on a later poll.
		return
	}
	defer p.locks.Release(run.Handle)

	acc, err := p.accounts.GetAccount(ctx, run.Handle)
	if err != nil {
		log.Printf("Worker: failed to load account %s for run %s: %v", run.Handle, run.RunID, err)
		return
	}
	if acc == nil {
		p.reject(ctx, run, failureMessage(ReasonInternalError, "account not found: "+run.Handle))
		return
	}

	if acc.Paused {
		reason := "account is paused"
		if acc.PausedReason != nil {
			reason = "account is paused: " + *acc.PausedReason
		}
		p.reject(ctx, run, failureMessage(ReasonAccountPaused, reason))
		return
	}

	tpType := touchpoint.Type(run.TouchpointType)
	category := tpType.QuotaCategory()
	override := overrideFor(category, acc.DailyConnections, acc.DailyMessages)
	if !p.quota.Check(run.Handle, category, override) {
		p.reject(ctx, run, failureMessage(ReasonQuotaExceeded,
			"daily "+string(category)+" quota reached for "+run.Handle))
		return
	}

	claimed, err := p.runs.MarkRunRunning(ctx, run.RunID)
	if err != nil {
		log.Printf("Worker: failed to claim run %s: %v", run.RunID, err)
		return
	}
	if !claimed {
		// Lost the conditional update; someone else already owns this run.
		return
	}

	p.execute(ctx, run, acc, tpType, category)
}

type execOutcome struct {
	result *touchpoint.Result
	err    error
}

// execute invokes the external executor under the configured timeout and
// records the terminal outcome. Outcome writes use a detached context so a
// shutdown mid-execution cannot leave the run stuck in running.
//
// The executor runs in its own goroutine: an executor that ignores its
// context must not hold the run in running or keep the handle lock past the
// deadline. When the deadline wins the race, the run fails with a timeout
// and the abandoned call's eventual result is discarded; the conditional
// terminal updates make any late write a no-op.
func (p *Pool) execute(ctx context.Context, run *db.Run, acc *db.Account, tpType touchpoint.Type, category touchpoint.Category) {
	execCtx, cancel := context.WithTimeout(ctx, p.cfg.ExecutorTimeout)
	defer cancel()

	log.Printf("Worker: executing run %s (%s) for handle %s", run.RunID, tpType, run.Handle)

	outcomes := make(chan execOutcome, 1)
	go func() {
		result, err := p.executor.Execute(execCtx, run.Handle, tpType, run.TouchpointInput)
		outcomes <- execOutcome{result: result, err: err}
	}()

	var out execOutcome
	select {
	case out = <-outcomes:
	case <-execCtx.Done():
		out = execOutcome{err: execCtx.Err()}
	}
	result, execErr := out.result, out.err

	recordCtx := context.WithoutCancel(ctx)

	if execErr == nil {
		var data map[string]any
		if result != nil {
			data = result.Data
		}
		if _, err := p.runs.CompleteRun(recordCtx, run.RunID, data); err != nil {
			log.Printf("Worker: failed to record completion of run %s: %v", run.RunID, err)
			return
		}
		p.quota.Record(run.Handle, category)
		if err := p.breaker.RecordSuccess(recordCtx, run.Handle); err != nil {
			log.Printf("Worker: failed to reset failures for %s: %v", run.Handle, err)
		}
		log.Printf("Worker: run %s completed", run.RunID)
		return
	}

	var screenshot *string
	if result != nil && result.Screenshot != "" {
		screenshot = &result.Screenshot
	}

	msg := classifyFailure(execErr, execCtx, p.cfg.ExecutorTimeout)
	if _, err := p.runs.FailRun(recordCtx, run.RunID, msg, screenshot); err != nil {
		log.Printf("Worker: failed to record failure of run %s: %v", run.RunID, err)
		return
	}
	if _, err := p.breaker.RecordFailure(recordCtx, run.Handle); err != nil {
		log.Printf("Worker: failed to record breaker failure for %s: %v", run.Handle, err)
	}
	log.Printf("Worker: run %s failed: %s", run.RunID, msg)
}

// reject terminalizes a run the engine refused before execution. The run
// never entered running, so started_at stays unset, and gating rejections do
// not count toward the breaker.
func (p *Pool) reject(ctx context.Context, run *db.Run, msg string) {
	if _, err := p.runs.FailRun(context.WithoutCancel(ctx), run.RunID, msg, nil); err != nil {
		log.Printf("Worker: failed to reject run %s: %v", run.RunID, err)
		return
	}
	log.Printf("Worker: run %s rejected: %s", run.RunID, msg)
}

// classifyFailure maps an executor error to a reason-coded message.
func classifyFailure(execErr error, execCtx context.Context, timeout time.Duration) string {
	var tpErr *touchpoint.ExecError
	switch {
	case errors.Is(execErr, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded):
		return failureMessage(ReasonTimeout, "execution exceeded "+timeout.String())
	case errors.As(execErr, &tpErr):
		return failureMessage(ReasonExecutionError, tpErr.Error())
	default:
		return failureMessage(ReasonInternalError, execErr.Error())
	}
}
