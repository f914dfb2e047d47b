package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/open-outreach/internal/db"
)

// UpsertAccountRequest is the payload for POST /api/v1/accounts. Posting an
// existing handle updates its settings without touching breaker state.
type UpsertAccountRequest struct {
	Handle           string  `json:"handle" validate:"required,min=1"`
	Active           *bool   `json:"active,omitempty"`
	Proxy            *string `json:"proxy,omitempty"`
	Username         string  `json:"username" validate:"required,min=1"`
	Password         string  `json:"password" validate:"required,min=1"`
	BookingLink      *string `json:"booking_link,omitempty"`
	DailyConnections int     `json:"daily_connections" validate:"gte=0"`
	DailyMessages    int     `json:"daily_messages" validate:"gte=0"`
}

// Validate validates the UpsertAccountRequest using the validator.
func (r *UpsertAccountRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// handleUpsertAccount creates or updates an account.
func (s *Server) handleUpsertAccount(w http.ResponseWriter, r *http.Request) {
	var req UpsertAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	acc, err := s.db.UpsertAccount(r.Context(), &db.AccountInput{
		Handle:           req.Handle,
		Active:           active,
		Proxy:            req.Proxy,
		Username:         req.Username,
		Password:         req.Password,
		BookingLink:      req.BookingLink,
		DailyConnections: req.DailyConnections,
		DailyMessages:    req.DailyMessages,
	})
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, acc)
}

// handleGetAccount retrieves an account by handle
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if handle == "" {
		s.errorResponse(w, http.StatusBadRequest, "Account handle is required")
		return
	}

	acc, err := s.db.GetAccount(r.Context(), handle)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if acc == nil {
		s.errorFrom(w, &ErrNotFound{Resource: "account", ID: handle})
		return
	}

	s.jsonResponse(w, http.StatusOK, acc)
}

// handleListAccounts lists all accounts
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.db.ListAccounts(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"total":    len(accounts),
	})
}

// handleDeleteAccount removes an account
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if handle == "" {
		s.errorResponse(w, http.StatusBadRequest, "Account handle is required")
		return
	}

	deleted, err := s.db.DeleteAccount(r.Context(), handle)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if !deleted {
		s.errorFrom(w, &ErrNotFound{Resource: "account", ID: handle})
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleResumeAccount is the manual circuit-breaker reset: it clears the
// pause flag, the pause reason, and the consecutive-failure counter. This is
// the only way a tripped account comes back.
func (s *Server) handleResumeAccount(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if handle == "" {
		s.errorResponse(w, http.StatusBadRequest, "Account handle is required")
		return
	}

	acc, err := s.db.GetAccount(r.Context(), handle)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if acc == nil {
		s.errorFrom(w, &ErrNotFound{Resource: "account", ID: handle})
		return
	}
	if !acc.Paused && acc.ConsecutiveFailures == 0 {
		s.errorFrom(w, &ErrConflict{Message: "account is not paused"})
		return
	}

	if _, err := s.db.ClearAccountPause(r.Context(), handle); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	acc, err = s.db.GetAccount(r.Context(), handle)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, acc)
}
