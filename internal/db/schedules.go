package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const scheduleColumns = `schedule_id, handle, touchpoint_type, touchpoint_input, cron,
	next_run_at, active, tags, created_at, updated_at`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var sched Schedule
	var inputJSON, tagsJSON []byte

	err := row.Scan(&sched.ScheduleID, &sched.Handle, &sched.TouchpointType, &inputJSON,
		&sched.Cron, &sched.NextRunAt, &sched.Active, &tagsJSON, &sched.CreatedAt, &sched.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if inputJSON != nil {
		_ = json.Unmarshal(inputJSON, &sched.TouchpointInput)
	}
	if tagsJSON != nil {
		_ = json.Unmarshal(tagsJSON, &sched.Tags)
	}

	return &sched, nil
}

// CreateSchedule inserts a new active schedule.
func (db *DB) CreateSchedule(ctx context.Context, input *ScheduleInput) (*Schedule, error) {
	inputJSON, err := json.Marshal(input.TouchpointInput)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal touchpoint input: %w", err)
	}
	var tagsJSON []byte
	if input.Tags != nil {
		if tagsJSON, err = json.Marshal(input.Tags); err != nil {
			return nil, fmt.Errorf("failed to marshal tags: %w", err)
		}
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO schedules (schedule_id, handle, touchpoint_type, touchpoint_input, cron, next_run_at, active, tags)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
		 RETURNING `+scheduleColumns,
		input.ScheduleID, input.Handle, input.TouchpointType, inputJSON, input.Cron, input.NextRunAt, tagsJSON,
	)
	sched, err := scanSchedule(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}
	return sched, nil
}

// GetSchedule retrieves a schedule by ID. Returns nil when not found.
func (db *DB) GetSchedule(ctx context.Context, scheduleID uuid.UUID) (*Schedule, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE schedule_id = $1`, scheduleID)
	sched, err := scanSchedule(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return sched, nil
}

// ListSchedules retrieves schedules newest first, optionally filtered by handle.
func (db *DB) ListSchedules(ctx context.Context, handle *string) ([]Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	args := []interface{}{}
	if handle != nil {
		query += ` WHERE handle = $1`
		args = append(args, *handle)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

// DueSchedules retrieves active schedules whose next fire time has passed.
func (db *DB) DueSchedules(ctx context.Context, now time.Time, limit int) ([]Schedule, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE active AND next_run_at <= $1
		 ORDER BY next_run_at ASC LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

// ExpandSchedule materializes one due fire: it inserts the pending run and
// advances next_run_at in a single transaction. The conditional update on the
// previous next_run_at makes the expansion idempotent: a concurrent or
// retried tick observes zero affected rows and the whole transaction rolls
// back, so one due fire can never yield two runs.
func (db *DB) ExpandSchedule(ctx context.Context, sched *Schedule, run *RunInput, nextRunAt time.Time) (bool, error) {
	inputJSON, err := json.Marshal(run.TouchpointInput)
	if err != nil {
		return false, fmt.Errorf("failed to marshal touchpoint input: %w", err)
	}
	var tagsJSON []byte
	if run.Tags != nil {
		if tagsJSON, err = json.Marshal(run.Tags); err != nil {
			return false, fmt.Errorf("failed to marshal tags: %w", err)
		}
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx,
		`UPDATE schedules SET next_run_at = $1, updated_at = NOW()
		 WHERE schedule_id = $2 AND active AND next_run_at = $3`,
		nextRunAt, sched.ScheduleID, sched.NextRunAt)
	if err != nil {
		return false, fmt.Errorf("failed to advance schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO runs (run_id, handle, touchpoint_type, touchpoint_input, status, tags)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.RunID, run.Handle, run.TouchpointType, inputJSON, StatusPending, tagsJSON)
	if err != nil {
		return false, fmt.Errorf("failed to create scheduled run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit schedule expansion: %w", err)
	}
	return true, nil
}

// SetScheduleActive pauses or resumes a schedule. When resuming with a stale
// next_run_at, the caller passes a recomputed fire time; nextRunAt is ignored
// when nil.
func (db *DB) SetScheduleActive(ctx context.Context, scheduleID uuid.UUID, active bool, nextRunAt *time.Time) (bool, error) {
	var tag pgconn.CommandTag
	var err error
	if nextRunAt != nil {
		tag, err = db.pool.Exec(ctx,
			`UPDATE schedules SET active = $1, next_run_at = $2, updated_at = NOW() WHERE schedule_id = $3`,
			active, *nextRunAt, scheduleID)
	} else {
		tag, err = db.pool.Exec(ctx,
			`UPDATE schedules SET active = $1, updated_at = NOW() WHERE schedule_id = $2`,
			active, scheduleID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to update schedule: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteSchedule removes a schedule.
func (db *DB) DeleteSchedule(ctx context.Context, scheduleID uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM schedules WHERE schedule_id = $1`, scheduleID)
	if err != nil {
		return false, fmt.Errorf("failed to delete schedule: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
