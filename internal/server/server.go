// Package server provides the HTTP REST API for the outreach engine.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jonathan/open-outreach/internal/db"
	"github.com/jonathan/open-outreach/internal/server/middleware"
	"github.com/jonathan/open-outreach/internal/server/ratelimit"
)

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	db          *db.DB
	apiKey      string
	rateLimiter *ratelimit.Limiter
}

// Config holds server configuration
type Config struct {
	Port   int
	APIKey string
}

// New creates a new server instance over an already-connected database.
func New(cfg Config, database *db.DB) *Server {
	s := &Server{
		db:     database,
		apiKey: cfg.APIKey,
	}

	s.rateLimiter = ratelimit.NewLimiter(ratelimit.FromEnv())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	// All /api/v1 routes sit behind the X-API-Key check. When no key is
	// configured the check is a no-op (development mode).
	auth := middleware.APIKey(cfg.APIKey)

	// Run endpoints
	mux.Handle("POST /api/v1/runs", auth(http.HandlerFunc(s.handleCreateRun)))
	mux.Handle("GET /api/v1/runs", auth(http.HandlerFunc(s.handleListRuns)))
	mux.Handle("GET /api/v1/runs/{run_id}", auth(http.HandlerFunc(s.handleGetRun)))

	// Schedule endpoints
	mux.Handle("POST /api/v1/schedules", auth(http.HandlerFunc(s.handleCreateSchedule)))
	mux.Handle("GET /api/v1/schedules", auth(http.HandlerFunc(s.handleListSchedules)))
	mux.Handle("DELETE /api/v1/schedules/{schedule_id}", auth(http.HandlerFunc(s.handleDeleteSchedule)))
	mux.Handle("POST /api/v1/schedules/{schedule_id}/pause", auth(http.HandlerFunc(s.handlePauseSchedule)))
	mux.Handle("POST /api/v1/schedules/{schedule_id}/resume", auth(http.HandlerFunc(s.handleResumeSchedule)))

	// Account endpoints
	mux.Handle("POST /api/v1/accounts", auth(http.HandlerFunc(s.handleUpsertAccount)))
	mux.Handle("GET /api/v1/accounts", auth(http.HandlerFunc(s.handleListAccounts)))
	mux.Handle("GET /api/v1/accounts/{handle}", auth(http.HandlerFunc(s.handleGetAccount)))
	mux.Handle("DELETE /api/v1/accounts/{handle}", auth(http.HandlerFunc(s.handleDeleteAccount)))
	mux.Handle("POST /api/v1/accounts/{handle}/resume", auth(http.HandlerFunc(s.handleResumeAccount)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withRateLimit(s.withLogging(s.withCORS(mux))),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Run listens for requests until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	log.Println("Server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := s.callerKey(r)

		allowed, info := s.rateLimiter.Allow(caller, r.URL.Path, r.Method)
		if !allowed {
			s.setRateLimitHeaders(w, info)
			s.rateLimitResponse(w, info)
			return
		}

		s.setRateLimitHeaders(w, info)
		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  "database unreachable",
			})
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// parseQueryInt parses an integer query parameter with default and max values
func parseQueryInt(r *http.Request, key string, defaultValue, maxValue int) int {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val < 0 {
		return defaultValue
	}
	if maxValue > 0 && val > maxValue {
		return maxValue
	}
	return val
}

// callerKey identifies the caller for rate limiting: the API key when the
// request carries one, the remote IP otherwise. Shared NAT clients with
// distinct keys get distinct budgets, and an unauthenticated flood cannot
// drain an authenticated caller's budget.
func (s *Server) callerKey(r *http.Request) string {
	if key := r.Header.Get(middleware.HeaderAPIKey); key != "" {
		return key
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]interface{}{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		response["retry_after"] = int(info.RetryAfter.Seconds())
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(info.RetryAfter.Seconds())))
	}

	log.Printf("[rate-limit] Rate limit exceeded: Limit=%d Remaining=%d Reset=%s",
		info.Limit, info.Remaining, info.ResetTime.Format(time.RFC3339))

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
