package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const accountColumns = `handle, active, proxy, username, password, booking_link,
	daily_connections, daily_messages, consecutive_failures, paused, paused_reason,
	created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var acc Account
	err := row.Scan(&acc.Handle, &acc.Active, &acc.Proxy, &acc.Username, &acc.Password,
		&acc.BookingLink, &acc.DailyConnections, &acc.DailyMessages,
		&acc.ConsecutiveFailures, &acc.Paused, &acc.PausedReason,
		&acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// UpsertAccount creates or updates an account. Breaker state is preserved on
// update; only operator-editable fields change.
func (db *DB) UpsertAccount(ctx context.Context, input *AccountInput) (*Account, error) {
	row := db.pool.QueryRow(ctx,
		`INSERT INTO accounts (handle, active, proxy, username, password, booking_link, daily_connections, daily_messages)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (handle) DO UPDATE SET
		    active = $2, proxy = $3, username = $4, password = $5, booking_link = $6,
		    daily_connections = $7, daily_messages = $8, updated_at = NOW()
		 RETURNING `+accountColumns,
		input.Handle, input.Active, input.Proxy, input.Username, input.Password,
		input.BookingLink, input.DailyConnections, input.DailyMessages,
	)
	acc, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	return acc, nil
}

// GetAccount retrieves an account by handle. Returns nil when not found.
func (db *DB) GetAccount(ctx context.Context, handle string) (*Account, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE handle = $1`, handle)
	acc, err := scanAccount(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// ListAccounts retrieves all accounts ordered by handle.
func (db *DB) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes an account.
func (db *DB) DeleteAccount(ctx context.Context, handle string) (bool, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM accounts WHERE handle = $1`, handle)
	if err != nil {
		return false, fmt.Errorf("failed to delete account: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordAccountFailure increments the consecutive-failure counter and flips
// the account to paused once the threshold is reached. Returns the updated
// counter and pause flag.
func (db *DB) RecordAccountFailure(ctx context.Context, handle string, threshold int) (failures int, paused bool, err error) {
	err = db.pool.QueryRow(ctx,
		`UPDATE accounts SET
		    consecutive_failures = consecutive_failures + 1,
		    paused = paused OR (consecutive_failures + 1 >= $2),
		    paused_reason = CASE
		        WHEN NOT paused AND consecutive_failures + 1 >= $2
		        THEN 'too_many_failures (' || (consecutive_failures + 1) || ' consecutive)'
		        ELSE paused_reason END,
		    updated_at = NOW()
		 WHERE handle = $1
		 RETURNING consecutive_failures, paused`,
		handle, threshold,
	).Scan(&failures, &paused)
	if err != nil {
		return 0, false, fmt.Errorf("failed to record account failure: %w", err)
	}
	return failures, paused, nil
}

// ResetAccountFailures zeroes the consecutive-failure counter after a success.
// An existing pause is left in place: only ClearAccountPause lifts it.
func (db *DB) ResetAccountFailures(ctx context.Context, handle string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE accounts SET consecutive_failures = 0, updated_at = NOW()
		 WHERE handle = $1 AND consecutive_failures > 0`,
		handle)
	if err != nil {
		return fmt.Errorf("failed to reset account failures: %w", err)
	}
	return nil
}

// ClearAccountPause lifts a pause and zeroes the failure counter. This is the
// manual operator reset; the engine never calls it.
func (db *DB) ClearAccountPause(ctx context.Context, handle string) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE accounts SET paused = FALSE, paused_reason = NULL, consecutive_failures = 0, updated_at = NOW()
		 WHERE handle = $1`,
		handle)
	if err != nil {
		return false, fmt.Errorf("failed to clear account pause: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
