package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const runColumns = `run_id, handle, touchpoint_type, touchpoint_input, status, result,
	error, error_screenshot, started_at, completed_at, duration_ms, tags, created_at`

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var inputJSON, resultJSON, tagsJSON []byte

	err := row.Scan(&run.RunID, &run.Handle, &run.TouchpointType, &inputJSON, &run.Status,
		&resultJSON, &run.Error, &run.ErrorScreenshot, &run.StartedAt, &run.CompletedAt,
		&run.DurationMs, &tagsJSON, &run.CreatedAt)
	if err != nil {
		return nil, err
	}

	if inputJSON != nil {
		_ = json.Unmarshal(inputJSON, &run.TouchpointInput)
	}
	if resultJSON != nil {
		_ = json.Unmarshal(resultJSON, &run.Result)
	}
	if tagsJSON != nil {
		_ = json.Unmarshal(tagsJSON, &run.Tags)
	}

	return &run, nil
}

// CreateRun inserts a new pending run.
func (db *DB) CreateRun(ctx context.Context, input *RunInput) (*Run, error) {
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
		`INSERT INTO runs (run_id, handle, touchpoint_type, touchpoint_input, status, tags)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+runColumns,
		input.RunID, input.Handle, input.TouchpointType, inputJSON, StatusPending, tagsJSON,
	)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID. Returns nil when not found.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, optionally filtered by handle and
// status, with the total count for pagination.
func (db *DB) ListRuns(ctx context.Context, handle, status *string, limit, offset int) ([]Run, int, error) {
	where := ""
	args := []interface{}{}
	argPos := 1

	if handle != nil {
		where += fmt.Sprintf(" AND handle = $%d", argPos)
		args = append(args, *handle)
		argPos++
	}
	if status != nil {
		where += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, *status)
		argPos++
	}

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM runs WHERE TRUE`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM runs WHERE TRUE%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		runColumns, where, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

// ListPendingRuns retrieves pending runs oldest first, the order in which the
// worker pool dispatches them.
func (db *DB) ListPendingRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = $1 ORDER BY created_at ASC LIMIT $2`,
		StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// MarkRunRunning claims a pending run, setting started_at. The conditional
// update guarantees two workers never both claim the same run.
func (db *DB) MarkRunRunning(ctx context.Context, runID uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1, started_at = NOW()
		 WHERE run_id = $2 AND status = $3`,
		StatusRunning, runID, StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark run running: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteRun records a successful terminal outcome for a running run.
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, result map[string]any) (bool, error) {
	var resultJSON []byte
	if result != nil {
		var err error
		if resultJSON, err = json.Marshal(result); err != nil {
			return false, fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1, result = $2, completed_at = NOW(),
		        duration_ms = (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::int
		 WHERE run_id = $3 AND status = $4`,
		StatusCompleted, resultJSON, runID, StatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to complete run: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FailRun records a failed terminal outcome. A pending run may fail directly
// (engine-side rejection, no started_at); a running run gets its duration.
// Runs already in a terminal state are never touched.
func (db *DB) FailRun(ctx context.Context, runID uuid.UUID, errMsg string, screenshot *string) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, error_screenshot = $3, completed_at = NOW(),
		        duration_ms = CASE WHEN started_at IS NOT NULL
		                      THEN (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::int END
		 WHERE run_id = $4 AND status IN ($5, $6)`,
		StatusFailed, errMsg, screenshot, runID, StatusPending, StatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to fail run: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
