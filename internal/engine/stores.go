package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/open-outreach/internal/db"
)

// RunStore is the durable run table. All status changes are conditional
// updates so concurrent workers can never double-claim or revive a run.
type RunStore interface {
	ListPendingRuns(ctx context.Context, limit int) ([]db.Run, error)
	MarkRunRunning(ctx context.Context, runID uuid.UUID) (bool, error)
	CompleteRun(ctx context.Context, runID uuid.UUID, result map[string]any) (bool, error)
	FailRun(ctx context.Context, runID uuid.UUID, errMsg string, screenshot *string) (bool, error)
}

// ScheduleStore is the durable schedule table.
type ScheduleStore interface {
	DueSchedules(ctx context.Context, now time.Time, limit int) ([]db.Schedule, error)
	ExpandSchedule(ctx context.Context, sched *db.Schedule, run *db.RunInput, nextRunAt time.Time) (bool, error)
}

// AccountStore carries account records and the persisted breaker state.
type AccountStore interface {
	GetAccount(ctx context.Context, handle string) (*db.Account, error)
	RecordAccountFailure(ctx context.Context, handle string, threshold int) (failures int, paused bool, err error)
	ResetAccountFailures(ctx context.Context, handle string) error
	ClearAccountPause(ctx context.Context, handle string) (bool, error)
}
