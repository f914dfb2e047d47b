package db

import (
	"time"

	"github.com/google/uuid"
)

// Run statuses. Transitions are monotonic: pending → running → completed|failed,
// with a direct pending → failed edge for engine-side rejections.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one attempted execution of a touchpoint against an account handle.
type Run struct {
	RunID           uuid.UUID      `json:"run_id"`
	Handle          string         `json:"handle"`
	TouchpointType  string         `json:"touchpoint_type"`
	TouchpointInput map[string]any `json:"touchpoint_input"`
	Status          string         `json:"status"`
	Result          map[string]any `json:"result,omitempty"`
	Error           *string        `json:"error,omitempty"`
	ErrorScreenshot *string        `json:"error_screenshot,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	DurationMs      *int           `json:"duration_ms,omitempty"`
	Tags            map[string]any `json:"tags,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Terminal reports whether the run has reached a final state.
func (r *Run) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// RunInput is the payload for creating a run.
type RunInput struct {
	RunID           uuid.UUID
	Handle          string
	TouchpointType  string
	TouchpointInput map[string]any
	Tags            map[string]any
}

// Schedule is a recurring template that spawns runs on a cron cadence.
type Schedule struct {
	ScheduleID      uuid.UUID      `json:"schedule_id"`
	Handle          string         `json:"handle"`
	TouchpointType  string         `json:"touchpoint_type"`
	TouchpointInput map[string]any `json:"touchpoint_input"`
	Cron            string         `json:"cron"`
	NextRunAt       time.Time      `json:"next_run_at"`
	Active          bool           `json:"active"`
	Tags            map[string]any `json:"tags,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ScheduleInput is the payload for creating a schedule.
type ScheduleInput struct {
	ScheduleID      uuid.UUID
	Handle          string
	TouchpointType  string
	TouchpointInput map[string]any
	Cron            string
	NextRunAt       time.Time
	Tags            map[string]any
}

// Account is an automation account. Circuit-breaker state lives on the row so
// it survives restarts; quota windows and locks are process-local.
type Account struct {
	Handle              string    `json:"handle"`
	Active              bool      `json:"active"`
	Proxy               *string   `json:"proxy,omitempty"`
	Username            string    `json:"username"`
	Password            string    `json:"-"`
	BookingLink         *string   `json:"booking_link,omitempty"`
	DailyConnections    int       `json:"daily_connections"`
	DailyMessages       int       `json:"daily_messages"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Paused              bool      `json:"paused"`
	PausedReason        *string   `json:"paused_reason,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// AccountInput is the payload for creating or updating an account.
type AccountInput struct {
	Handle           string
	Active           bool
	Proxy            *string
	Username         string
	Password         string
	BookingLink      *string
	DailyConnections int
	DailyMessages    int
}
