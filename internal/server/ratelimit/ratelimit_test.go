package ratelimit

import (
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(rules ...Rule) *Config {
	return &Config{
		Enabled:       true,
		DefaultLimit:  10,
		DefaultWindow: time.Minute,
		Rules:         rules,
	}
}

func TestBucketBurstThenDeny(t *testing.T) {
	now := time.Now()
	b := newBucket(5, 1.0, now)

	for i := 0; i < 5; i++ {
		ok, _, _ := b.take(now)
		require.True(t, ok, "request %d within burst must pass", i+1)
	}

	ok, remaining, reset := b.take(now)
	assert.False(t, ok, "request past burst must be denied")
	assert.Equal(t, 0, remaining)
	assert.True(t, reset.After(now))
}

func TestBucketRefills(t *testing.T) {
	now := time.Now()
	b := newBucket(5, 1.0, now)
	for i := 0; i < 5; i++ {
		b.take(now)
	}

	ok, _, _ := b.take(now.Add(1500 * time.Millisecond))
	assert.True(t, ok, "one token must be back after 1.5s at 1/s")

	ok, _, _ = b.take(now.Add(1500 * time.Millisecond))
	assert.False(t, ok, "the refilled token was already spent")
}

func TestMatchRule(t *testing.T) {
	rules := DefaultRules()

	exact := matchRule("/api/v1/runs", http.MethodPost, rules)
	require.NotNil(t, exact)
	assert.Equal(t, 120, exact.Limit)

	prefix := matchRule("/api/v1/schedules/42/pause", http.MethodPost, rules)
	require.NotNil(t, prefix)
	assert.Equal(t, "/api/v1/schedules/", prefix.Path)

	assert.Nil(t, matchRule("/api/v1/runs", http.MethodGet, rules),
		"reads fall through to the default budget")

	health := matchRule("/health", http.MethodGet, rules)
	require.NotNil(t, health)
	assert.LessOrEqual(t, health.Limit, 0, "health checks are never limited")
}

func TestAllowEnforcesRuleBudget(t *testing.T) {
	l := NewLimiter(testConfig(
		Rule{Path: "/api/v1/runs", Method: http.MethodPost, Limit: 5, Window: time.Hour, Burst: 5},
	))
	defer l.Stop()

	for i := 0; i < 5; i++ {
		ok, info := l.Allow("key-a", "/api/v1/runs", http.MethodPost)
		require.True(t, ok, "request %d within budget must pass", i+1)
		assert.Equal(t, 5, info.Limit)
		assert.Equal(t, 4-i, info.Remaining)
	}

	ok, info := l.Allow("key-a", "/api/v1/runs", http.MethodPost)
	assert.False(t, ok)
	assert.Equal(t, 0, info.Remaining)
	assert.Greater(t, info.RetryAfter, time.Duration(0))

	// Budgets are per caller: a different key still has a full bucket
	ok, _ = l.Allow("key-b", "/api/v1/runs", http.MethodPost)
	assert.True(t, ok)
}

func TestAllowSharesBucketAcrossPrefixPaths(t *testing.T) {
	l := NewLimiter(testConfig(
		Rule{Path: "/api/v1/schedules/", Method: http.MethodPost, Limit: 3, Window: time.Hour, Burst: 3},
	))
	defer l.Stop()

	// Pausing three different schedules drains one shared budget
	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("key-a", fmt.Sprintf("/api/v1/schedules/%d/pause", i), http.MethodPost)
		require.True(t, ok)
	}
	ok, _ := l.Allow("key-a", "/api/v1/schedules/99/resume", http.MethodPost)
	assert.False(t, ok, "spreading writes across ids must not widen the budget")
}

func TestAllowUnmatchedUsesDefaultBudget(t *testing.T) {
	l := NewLimiter(testConfig())
	defer l.Stop()

	for i := 0; i < 10; i++ {
		ok, info := l.Allow("key-a", "/api/v1/runs", http.MethodGet)
		require.True(t, ok)
		assert.Equal(t, 10, info.Limit)
	}
	ok, _ := l.Allow("key-a", "/api/v1/runs", http.MethodGet)
	assert.False(t, ok)
}

func TestAllowExemptCallerBypasses(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultLimit = 1
	cfg.Exempt = map[string]bool{"operator-key": true}
	l := NewLimiter(cfg)
	defer l.Stop()

	for i := 0; i < 50; i++ {
		ok, info := l.Allow("operator-key", "/api/v1/runs", http.MethodGet)
		require.True(t, ok)
		assert.Equal(t, 0, info.Limit)
	}
}

func TestAllowDisabledAndNilConfig(t *testing.T) {
	for name, l := range map[string]*Limiter{
		"disabled": NewLimiter(&Config{}),
		"nil":      NewLimiter(nil),
	} {
		defer l.Stop()
		for i := 0; i < 20; i++ {
			ok, _ := l.Allow("key-a", "/api/v1/runs", http.MethodPost)
			assert.True(t, ok, "%s limiter must pass everything", name)
		}
	}
}

func TestAllowConcurrent(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultLimit = 100
	l := NewLimiter(cfg)
	defer l.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("key-a", "/api/v1/runs", http.MethodGet); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, allowed, "exactly the budget must pass under contention")
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	l := NewLimiter(testConfig())
	defer l.Stop()

	l.Allow("stale-key", "/api/v1/runs", http.MethodGet)
	l.Allow("live-key", "/api/v1/runs", http.MethodGet)

	l.mu.Lock()
	for key, b := range l.buckets {
		if key == "stale-key GET /api/v1/runs" {
			b.lastSeen = time.Now().Add(-2 * bucketIdleTTL)
		}
	}
	l.mu.Unlock()

	l.sweep(time.Now().Add(-bucketIdleTTL))

	l.mu.RLock()
	defer l.mu.RUnlock()
	assert.NotContains(t, l.buckets, "stale-key GET /api/v1/runs")
	assert.Contains(t, l.buckets, "live-key GET /api/v1/runs")
}
