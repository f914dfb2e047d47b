package engine

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Cron expressions are standard 5-field, evaluated in UTC so a schedule fires
// at the same wall-clock boundary regardless of server time zone.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ValidateCron checks a cron expression for well-formedness. Called at
// schedule creation; fire time never re-validates.
func ValidateCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextFire computes the next fire time strictly after the given instant.
// Advancing from the last scheduled fire (not from wall-clock now) keeps the
// cadence drift-free and makes re-expansion of the same due fire idempotent.
func NextFire(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(after.In(time.UTC)), nil
}
