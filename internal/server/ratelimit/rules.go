package ratelimit

import (
	"net/http"
	"strings"
	"time"
)

// Rule binds a request budget to an endpoint. Path matching is exact, or
// prefix when Path ends with "/", so "/api/v1/schedules/" covers every
// schedule id. Limit <= 0 means the endpoint is unlimited.
type Rule struct {
	Path   string
	Method string
	Limit  int           // requests per Window
	Window time.Duration
	Burst  int           // bucket capacity; defaults to Limit
}

// DefaultRules caps the endpoints that enqueue browser work hardest: every
// accepted run or schedule turns into real LinkedIn actions, so those budgets
// stay near what the engine can safely execute. Remaining writes get a
// moderate per-minute budget, reads fall through to the default, and /health
// is never limited.
func DefaultRules() []Rule {
	return []Rule{
		{Path: "/api/v1/runs", Method: http.MethodPost, Limit: 120, Window: time.Hour, Burst: 20},
		{Path: "/api/v1/schedules", Method: http.MethodPost, Limit: 60, Window: time.Hour, Burst: 10},

		{Path: "/api/v1/accounts", Method: http.MethodPost, Limit: 100, Window: time.Minute, Burst: 10},
		{Path: "/api/v1/accounts/", Method: http.MethodPost, Limit: 100, Window: time.Minute, Burst: 10},
		{Path: "/api/v1/accounts/", Method: http.MethodDelete, Limit: 100, Window: time.Minute, Burst: 10},
		{Path: "/api/v1/schedules/", Method: http.MethodPost, Limit: 100, Window: time.Minute, Burst: 10},
		{Path: "/api/v1/schedules/", Method: http.MethodDelete, Limit: 100, Window: time.Minute, Burst: 10},
	}
}

// matchRule resolves the rule for a request. Exact path matches win over
// prefix matches; /health is always unlimited so probes cannot starve.
func matchRule(path, method string, rules []Rule) *Rule {
	if path == "/health" && method == http.MethodGet {
		return &Rule{}
	}

	for i := range rules {
		r := &rules[i]
		if r.Method == method && r.Path == path {
			return r
		}
	}
	for i := range rules {
		r := &rules[i]
		if r.Method == method && strings.HasSuffix(r.Path, "/") && strings.HasPrefix(path, r.Path) {
			return r
		}
	}
	return nil
}
