package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/open-outreach/internal/db"
	"github.com/jonathan/open-outreach/internal/engine"
	"github.com/jonathan/open-outreach/internal/touchpoint"
)

// CreateScheduleRequest is the payload for POST /api/v1/schedules.
type CreateScheduleRequest struct {
	Handle          string         `json:"handle" validate:"required,min=1"`
	Cron            string         `json:"cron" validate:"required"`
	TouchpointInput map[string]any `json:"touchpoint_input" validate:"required"`
	Tags            map[string]any `json:"tags,omitempty"`
}

// Validate validates the CreateScheduleRequest using the validator.
func (r *CreateScheduleRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// handleCreateSchedule creates a recurring schedule. The cron expression and
// the touchpoint payload are both validated here, so the scheduler only ever
// sees expandable rows.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}
	if err := engine.ValidateCron(req.Cron); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid cron expression: "+err.Error())
		return
	}
	tpType, err := touchpoint.ValidateInput(req.TouchpointInput)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	acc, err := s.db.GetAccount(r.Context(), req.Handle)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if acc == nil {
		s.errorResponse(w, http.StatusBadRequest, "unknown account handle: "+req.Handle)
		return
	}

	next, err := engine.NextFire(req.Cron, time.Now().UTC())
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid cron expression: "+err.Error())
		return
	}

	sched, err := s.db.CreateSchedule(r.Context(), &db.ScheduleInput{
		ScheduleID:      uuid.New(),
		Handle:          req.Handle,
		TouchpointType:  string(tpType),
		TouchpointInput: req.TouchpointInput,
		Cron:            req.Cron,
		NextRunAt:       next,
		Tags:            req.Tags,
	})
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusCreated, sched)
}

// handleListSchedules lists schedules, optionally filtered by handle.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	var handle *string
	if h := r.URL.Query().Get("handle"); h != "" {
		handle = &h
	}

	schedules, err := s.db.ListSchedules(r.Context(), handle)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"schedules": schedules,
		"total":     len(schedules),
	})
}

// handleDeleteSchedule removes a schedule. Runs it already spawned are
// unaffected.
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := uuid.Parse(r.PathValue("schedule_id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid schedule ID")
		return
	}

	deleted, err := s.db.DeleteSchedule(r.Context(), scheduleID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if !deleted {
		s.errorFrom(w, &ErrNotFound{Resource: "schedule", ID: scheduleID.String()})
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handlePauseSchedule deactivates a schedule without deleting it.
func (s *Server) handlePauseSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := uuid.Parse(r.PathValue("schedule_id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid schedule ID")
		return
	}

	updated, err := s.db.SetScheduleActive(r.Context(), scheduleID, false, nil)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if !updated {
		s.errorFrom(w, &ErrNotFound{Resource: "schedule", ID: scheduleID.String()})
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "paused"})
}

// handleResumeSchedule reactivates a schedule. A next_run_at that went stale
// while paused is recomputed from now, so resuming never backfills the
// paused period.
func (s *Server) handleResumeSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := uuid.Parse(r.PathValue("schedule_id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid schedule ID")
		return
	}

	sched, err := s.db.GetSchedule(r.Context(), scheduleID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if sched == nil {
		s.errorFrom(w, &ErrNotFound{Resource: "schedule", ID: scheduleID.String()})
		return
	}

	var nextRunAt *time.Time
	now := time.Now().UTC()
	if sched.NextRunAt.Before(now) {
		next, err := engine.NextFire(sched.Cron, now)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "Invalid stored cron: "+err.Error())
			return
		}
		nextRunAt = &next
	}

	if _, err := s.db.SetScheduleActive(r.Context(), scheduleID, true, nextRunAt); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "active"})
}
