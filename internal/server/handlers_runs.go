package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/jonathan/open-outreach/internal/db"
	"github.com/jonathan/open-outreach/internal/touchpoint"
)

// CreateRunRequest is the payload for POST /api/v1/runs. The touchpoint
// payload is validated against the JSON Schema for its type; nothing is
// persisted on rejection.
type CreateRunRequest struct {
	Handle          string         `json:"handle"`
	TouchpointInput map[string]any `json:"touchpoint_input"`
	Tags            map[string]any `json:"tags,omitempty"`
}

// handleCreateRun validates and enqueues a run.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if req.Handle == "" {
		s.errorFrom(w, &ErrValidation{Field: "handle", Message: "is required"})
		return
	}
	if len(req.TouchpointInput) == 0 {
		s.errorFrom(w, &ErrValidation{Field: "touchpoint_input", Message: "is required"})
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

	runID := uuid.New()
	input := make(map[string]any, len(req.TouchpointInput)+2)
	for k, v := range req.TouchpointInput {
		input[k] = v
	}
	input["handle"] = req.Handle
	input["run_id"] = runID.String()

	run, err := s.db.CreateRun(r.Context(), &db.RunInput{
		RunID:           runID,
		Handle:          req.Handle,
		TouchpointType:  string(tpType),
		TouchpointInput: input,
		Tags:            req.Tags,
	})
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusCreated, run)
}

// handleGetRun retrieves a run by ID
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	run, err := s.db.GetRun(r.Context(), runID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if run == nil {
		s.errorFrom(w, &ErrNotFound{Resource: "run", ID: runID.String()})
		return
	}

	s.jsonResponse(w, http.StatusOK, run)
}

// handleListRuns lists runs, newest first, filterable by handle and status.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseQueryInt(r, "limit", 50, 200)
	offset := parseQueryInt(r, "offset", 0, 0)

	var handle, status *string
	if h := r.URL.Query().Get("handle"); h != "" {
		handle = &h
	}
	if st := r.URL.Query().Get("status"); st != "" {
		switch st {
		case db.StatusPending, db.StatusRunning, db.StatusCompleted, db.StatusFailed:
			status = &st
		default:
			s.errorResponse(w, http.StatusBadRequest, "Invalid status: "+st)
			return
		}
	}

	runs, total, err := s.db.ListRuns(r.Context(), handle, status, limit, offset)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"runs":   runs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
