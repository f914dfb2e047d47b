package engine

import (
	"sync"
	"time"

	"github.com/jonathan/open-outreach/internal/touchpoint"
)

// quotaWindow is the trailing interval a quota check counts events in.
const quotaWindow = 24 * time.Hour

// QuotaLimits are the default per-category daily maxima. A limit of zero or
// less means the category is uncapped.
type QuotaLimits struct {
	Connect int
	Message int
	Post    int
}

// QuotaTracker counts successful actions per handle and category over a
// rolling 24-hour window. Only successes consume quota; the worker records
// after a completed execution and checks before starting one.
//
// Counters are process-local and reset on restart, a documented limitation.
type QuotaTracker struct {
	limits QuotaLimits

	mu     sync.Mutex
	events map[quotaKey][]time.Time

	now func() time.Time
}

type quotaKey struct {
	handle   string
	category touchpoint.Category
}

// NewQuotaTracker creates a tracker with the given default limits.
func NewQuotaTracker(limits QuotaLimits) *QuotaTracker {
	return &QuotaTracker{
		limits: limits,
		events: make(map[quotaKey][]time.Time),
		now:    time.Now,
	}
}

// Check reports whether another action in the category is allowed for the
// handle. override, when positive, replaces the configured default limit
// (per-account caps from the account record).
func (t *QuotaTracker) Check(handle string, category touchpoint.Category, override int) bool {
	limit := t.limitFor(category, override)
	if limit <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countLocked(quotaKey{handle, category}) < limit
}

// Record counts one successful action for the handle and category.
func (t *QuotaTracker) Record(handle string, category touchpoint.Category) {
	if category == touchpoint.CategoryNone {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := quotaKey{handle, category}
	t.countLocked(key) // prune expired events while we hold the lock
	t.events[key] = append(t.events[key], t.now())
}

// Used returns the current count for a handle and category.
func (t *QuotaTracker) Used(handle string, category touchpoint.Category) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countLocked(quotaKey{handle, category})
}

// countLocked prunes events older than the window and returns the remainder.
func (t *QuotaTracker) countLocked(key quotaKey) int {
	cutoff := t.now().Add(-quotaWindow)
	events := t.events[key]

	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		events = append([]time.Time(nil), events[i:]...)
		if len(events) == 0 {
			delete(t.events, key)
		} else {
			t.events[key] = events
		}
	}
	return len(events)
}

func (t *QuotaTracker) limitFor(category touchpoint.Category, override int) int {
	if override > 0 {
		return override
	}
	switch category {
	case touchpoint.CategoryConnect:
		return t.limits.Connect
	case touchpoint.CategoryMessage:
		return t.limits.Message
	case touchpoint.CategoryPost:
		return t.limits.Post
	default:
		return 0
	}
}

// overrideFor resolves the per-account cap for a category, if the account
// defines one.
func overrideFor(category touchpoint.Category, dailyConnections, dailyMessages int) int {
	switch category {
	case touchpoint.CategoryConnect:
		return dailyConnections
	case touchpoint.CategoryMessage:
		return dailyMessages
	default:
		return 0
	}
}
