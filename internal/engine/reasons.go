// Package engine implements the run execution core: account locking, quota
// and circuit-breaker gating, the worker dispatch loop, and cron-driven
// schedule expansion.
package engine

import "fmt"

// Failure reason codes recorded as the prefix of a failed run's error field.
const (
	ReasonQuotaExceeded  = "QUOTA_EXCEEDED"
	ReasonAccountPaused  = "ACCOUNT_PAUSED"
	ReasonTimeout        = "TIMEOUT"
	ReasonExecutionError = "EXECUTION_ERROR"
	ReasonInternalError  = "INTERNAL_ERROR"
)

// failureMessage formats a terminal error as "CODE: detail".
func failureMessage(code, detail string) string {
	return fmt.Sprintf("%s: %s", code, detail)
}
