package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/open-outreach/internal/db"
)

// memStore is an in-memory stand-in for the database used by engine tests.
// It mirrors the store's conditional-update semantics: status changes apply
// only from the expected prior state.
type memStore struct {
	mu        sync.Mutex
	runs      map[uuid.UUID]*db.Run
	accounts  map[string]*db.Account
	schedules map[uuid.UUID]*db.Schedule
	seq       int
}

func newMemStore() *memStore {
	return &memStore{
		runs:      make(map[uuid.UUID]*db.Run),
		accounts:  make(map[string]*db.Account),
		schedules: make(map[uuid.UUID]*db.Schedule),
	}
}

func (m *memStore) addPending(handle, tpType string, input map[string]any) *db.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	run := &db.Run{
		RunID:           uuid.New(),
		Handle:          handle,
		TouchpointType:  tpType,
		TouchpointInput: input,
		Status:          db.StatusPending,
		// spread created_at so FIFO order is unambiguous
		CreatedAt: time.Now().Add(time.Duration(m.seq) * time.Microsecond),
	}
	m.runs[run.RunID] = run
	return run
}

func (m *memStore) addAccount(handle string) *db.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := &db.Account{
		Handle:   handle,
		Active:   true,
		Username: handle + "@example.com",
		Password: "secret",
	}
	m.accounts[handle] = acc
	return acc
}

func (m *memStore) addSchedule(handle, tpType, cronExpr string, nextRunAt time.Time) *db.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	sched := &db.Schedule{
		ScheduleID:      uuid.New(),
		Handle:          handle,
		TouchpointType:  tpType,
		TouchpointInput: map[string]any{"type": tpType, "url": "https://example.com"},
		Cron:            cronExpr,
		NextRunAt:       nextRunAt,
		Active:          true,
	}
	m.schedules[sched.ScheduleID] = sched
	return sched
}

func (m *memStore) getRun(runID uuid.UUID) db.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.runs[runID]
}

func (m *memStore) runsFor(handle string) []db.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Run
	for _, r := range m.runs {
		if r.Handle == handle {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RunStore

func (m *memStore) ListPendingRuns(_ context.Context, limit int) ([]db.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Run
	for _, r := range m.runs {
		if r.Status == db.StatusPending {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) MarkRunRunning(_ context.Context, runID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.Status != db.StatusPending {
		return false, nil
	}
	now := time.Now()
	run.Status = db.StatusRunning
	run.StartedAt = &now
	return true, nil
}

func (m *memStore) CompleteRun(_ context.Context, runID uuid.UUID, result map[string]any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.Status != db.StatusRunning {
		return false, nil
	}
	now := time.Now()
	run.Status = db.StatusCompleted
	run.Result = result
	run.CompletedAt = &now
	durationMs := int(now.Sub(*run.StartedAt).Milliseconds())
	run.DurationMs = &durationMs
	return true, nil
}

func (m *memStore) FailRun(_ context.Context, runID uuid.UUID, errMsg string, screenshot *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || (run.Status != db.StatusPending && run.Status != db.StatusRunning) {
		return false, nil
	}
	now := time.Now()
	run.Status = db.StatusFailed
	run.Error = &errMsg
	run.ErrorScreenshot = screenshot
	run.CompletedAt = &now
	if run.StartedAt != nil {
		durationMs := int(now.Sub(*run.StartedAt).Milliseconds())
		run.DurationMs = &durationMs
	}
	return true, nil
}

// AccountStore

func (m *memStore) GetAccount(_ context.Context, handle string) (*db.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[handle]
	if !ok {
		return nil, nil
	}
	copied := *acc
	return &copied, nil
}

func (m *memStore) RecordAccountFailure(_ context.Context, handle string, threshold int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := m.accounts[handle]
	acc.ConsecutiveFailures++
	if !acc.Paused && acc.ConsecutiveFailures >= threshold {
		acc.Paused = true
		reason := "too_many_failures"
		acc.PausedReason = &reason
	}
	return acc.ConsecutiveFailures, acc.Paused, nil
}

func (m *memStore) ResetAccountFailures(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[handle].ConsecutiveFailures = 0
	return nil
}

func (m *memStore) ClearAccountPause(_ context.Context, handle string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[handle]
	if !ok {
		return false, nil
	}
	acc.Paused = false
	acc.PausedReason = nil
	acc.ConsecutiveFailures = 0
	return true, nil
}

// ScheduleStore

func (m *memStore) DueSchedules(_ context.Context, now time.Time, limit int) ([]db.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Schedule
	for _, s := range m.schedules {
		if s.Active && !s.NextRunAt.After(now) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ExpandSchedule(_ context.Context, sched *db.Schedule, run *db.RunInput, nextRunAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.schedules[sched.ScheduleID]
	if !ok || !stored.Active || !stored.NextRunAt.Equal(sched.NextRunAt) {
		return false, nil
	}
	stored.NextRunAt = nextRunAt
	m.seq++
	m.runs[run.RunID] = &db.Run{
		RunID:           run.RunID,
		Handle:          run.Handle,
		TouchpointType:  run.TouchpointType,
		TouchpointInput: run.TouchpointInput,
		Status:          db.StatusPending,
		Tags:            run.Tags,
		CreatedAt:       time.Now().Add(time.Duration(m.seq) * time.Microsecond),
	}
	return true, nil
}
