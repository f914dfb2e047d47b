package engine

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/open-outreach/internal/db"
)

// schedulerBatchSize bounds how many due schedules one tick expands.
const schedulerBatchSize = 50

// Scheduler periodically expands due schedules into pending runs. Each due
// fire becomes exactly one run: the run insert and the next_run_at advance
// commit in a single store transaction, and the advance is conditional on the
// observed fire time, so repeated or concurrent ticks cannot duplicate a fire.
type Scheduler struct {
	schedules ScheduleStore
	interval  time.Duration

	now      func() time.Time
	newRunID func() uuid.UUID
}

// NewScheduler creates a scheduler polling at the given interval. The
// interval is independent of any schedule's cron granularity.
func NewScheduler(schedules ScheduleStore, interval time.Duration) *Scheduler {
	return &Scheduler{
		schedules: schedules,
		interval:  interval,
		now:       time.Now,
		newRunID:  uuid.New,
	}
}

// Run starts the poll loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("Scheduler started (interval %s)", s.interval)
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			log.Printf("Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick expands every currently due schedule by one fire.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().UTC()
	due, err := s.schedules.DueSchedules(ctx, now, schedulerBatchSize)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("Scheduler: failed to list due schedules: %v", err)
		}
		return
	}

	for i := range due {
		if ctx.Err() != nil {
			return
		}
		s.expand(ctx, &due[i])
	}
}

func (s *Scheduler) expand(ctx context.Context, sched *db.Schedule) {
	next, err := NextFire(sched.Cron, sched.NextRunAt)
	if err != nil {
		// Expressions are validated at creation; a bad one here means the
		// row was tampered with. Skip rather than wedge the tick.
		log.Printf("Scheduler: schedule %s has unusable cron %q: %v", sched.ScheduleID, sched.Cron, err)
		return
	}

	runID := s.newRunID()
	input := make(map[string]any, len(sched.TouchpointInput)+2)
	for k, v := range sched.TouchpointInput {
		input[k] = v
	}
	input["handle"] = sched.Handle
	input["run_id"] = runID.String()

	run := &db.RunInput{
		RunID:           runID,
		Handle:          sched.Handle,
		TouchpointType:  sched.TouchpointType,
		TouchpointInput: input,
		Tags:            sched.Tags,
	}

	expanded, err := s.schedules.ExpandSchedule(ctx, sched, run, next)
	if err != nil {
		log.Printf("Scheduler: failed to expand schedule %s: %v", sched.ScheduleID, err)
		return
	}
	if !expanded {
		// Another tick got this fire first.
		return
	}
	log.Printf("Scheduler: created run %s for schedule %s (next fire %s)",
		runID, sched.ScheduleID, next.Format(time.RFC3339))
}
