package touchpoint

import (
	"context"
	"fmt"
)

// Result is the outcome of a successful touchpoint execution. The payload is
// touchpoint-specific and stored verbatim on the run.
type Result struct {
	Data       map[string]any
	Screenshot string // optional path to a captured screenshot
}

// ExecError is a structured failure reported by an executor. Kind is a stable
// machine-readable reason passed through to the run's error field.
type ExecError struct {
	Kind    string // e.g. "not_available", "ui_changed", "blocked", "no_credits"
	Message string
}

// Well-known executor error kinds.
const (
	KindNotAvailable = "not_available"
	KindUIChanged    = "ui_changed"
	KindBlocked      = "blocked"
	KindNoCredits    = "no_credits"
)

func (e *ExecError) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Executor runs a single touchpoint against an account. Implementations may be
// slow and flaky; the engine bounds each call with a timeout and treats any
// returned error as a terminal run failure.
type Executor interface {
	Execute(ctx context.Context, handle string, tpType Type, input map[string]any) (*Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, handle string, tpType Type, input map[string]any) (*Result, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, handle string, tpType Type, input map[string]any) (*Result, error) {
	return f(ctx, handle, tpType, input)
}
