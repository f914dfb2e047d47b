// Package ratelimit enforces per-caller request budgets with token buckets.
// Callers are identified upstream, by API key when the request carries one
// and by remote address otherwise, so every automation client gets its own
// budget per endpoint rule.
package ratelimit

import (
	"sync"
	"time"
)

// bucketIdleTTL is how long an untouched bucket survives before the sweep
// drops it.
const bucketIdleTTL = time.Hour

// bucket is a token bucket. Tokens refill continuously at rate per second up
// to capacity; lastSeen feeds the idle sweep.
type bucket struct {
	mu       sync.Mutex
	capacity float64
	rate     float64
	tokens   float64
	refilled time.Time
	lastSeen time.Time
}

func newBucket(capacity int, rate float64, now time.Time) *bucket {
	return &bucket{
		capacity: float64(capacity),
		rate:     rate,
		tokens:   float64(capacity),
		refilled: now,
		lastSeen: now,
	}
}

// take refills for elapsed time, then consumes one token if available. It
// reports whether the request may proceed, the tokens left, and when the
// bucket is full again.
func (b *bucket) take(now time.Time) (ok bool, remaining int, reset time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.refilled).Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.refilled = now
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		ok = true
	}

	remaining = int(b.tokens)
	reset = now
	if b.tokens < b.capacity {
		secondsUntilFull := (b.capacity - b.tokens) / b.rate
		reset = now.Add(time.Duration(secondsUntilFull * float64(time.Second)))
	}
	return ok, remaining, reset
}

func (b *bucket) idleSince(cutoff time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeen.Before(cutoff)
}

// Info describes the budget state after a check, for response headers.
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Config holds limiter configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int           // budget for requests no rule matches
	DefaultWindow   time.Duration // window for the default budget
	CleanupInterval time.Duration // idle-bucket sweep period; <= 0 disables
	Exempt          map[string]bool
	Rules           []Rule
}

// Limiter keeps one bucket per caller and matched rule. Exempt callers
// (trusted operator keys) bypass limiting entirely.
type Limiter struct {
	cfg *Config

	mu      sync.RWMutex
	buckets map[string]*bucket

	stop chan struct{}
}

// NewLimiter creates a limiter and starts the idle-bucket sweep when
// configured. A nil config limits nothing.
func NewLimiter(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = &Config{}
	}
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
	}
	if cfg.Enabled && cfg.CleanupInterval > 0 {
		l.stop = make(chan struct{})
		go l.sweepLoop(cfg.CleanupInterval, l.stop)
	}
	return l
}

// Allow reports whether the caller may hit the endpoint now. A denied
// request's Info carries how long to wait before retrying.
func (l *Limiter) Allow(caller, path, method string) (bool, Info) {
	if !l.cfg.Enabled || l.cfg.Exempt[caller] {
		return true, Info{Allowed: true}
	}

	rule := matchRule(path, method, l.cfg.Rules)
	if rule == nil {
		rule = &Rule{Limit: l.cfg.DefaultLimit, Window: l.cfg.DefaultWindow}
	}
	if rule.Limit <= 0 || rule.Window <= 0 {
		return true, Info{Allowed: true}
	}

	// All request paths under a prefix rule share the rule's bucket, so
	// spreading writes across ids cannot widen the budget.
	keyPath := rule.Path
	if keyPath == "" {
		keyPath = path
	}
	b := l.bucketFor(caller+" "+method+" "+keyPath, rule)

	ok, remaining, reset := b.take(time.Now())
	info := Info{
		Allowed:   ok,
		Limit:     rule.Limit,
		Remaining: remaining,
		ResetTime: reset,
	}
	if !ok {
		if wait := time.Until(reset); wait > 0 {
			info.RetryAfter = wait
		}
	}
	return ok, info
}

func (l *Limiter) bucketFor(key string, rule *Rule) *bucket {
	l.mu.RLock()
	b := l.buckets[key]
	l.mu.RUnlock()
	if b != nil {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b = l.buckets[key]; b != nil {
		return b
	}

	burst := rule.Burst
	if burst <= 0 {
		burst = rule.Limit
	}
	b = newBucket(burst, float64(rule.Limit)/rule.Window.Seconds(), time.Now())
	l.buckets[key] = b
	return b
}

func (l *Limiter) sweepLoop(every time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep(time.Now().Add(-bucketIdleTTL))
		case <-stop:
			return
		}
	}
}

// sweep drops buckets untouched since cutoff so long-gone callers do not
// accumulate.
func (l *Limiter) sweep(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.idleSince(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Stop ends the sweep goroutine.
func (l *Limiter) Stop() {
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
}
