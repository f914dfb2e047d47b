package engine

import (
	"sync"

	"github.com/google/uuid"
)

// LockManager provides per-handle mutual exclusion for run execution. At most
// one run holds a given handle's lock at any instant; this is the engine's
// central invariant. Acquisition is non-blocking: a busy handle means the
// caller moves on and retries the run on a later poll.
//
// The map is process-local. Single-instance deployment is a documented
// constraint, not an oversight.
type LockManager struct {
	mu      sync.Mutex
	holders map[string]uuid.UUID
}

// NewLockManager creates an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{holders: make(map[string]uuid.UUID)}
}

// TryAcquire attempts to take the lock for handle on behalf of runID.
// Returns false immediately when the handle is already held.
func (m *LockManager) TryAcquire(handle string, runID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.holders[handle]; held {
		return false
	}
	m.holders[handle] = runID
	return true
}

// Release frees the lock for handle. Releasing an unheld handle is a no-op,
// which protects against double-release after a forced timeout path.
func (m *LockManager) Release(handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holders, handle)
}

// Holder returns the run currently holding the handle's lock, if any.
func (m *LockManager) Holder(handle string) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runID, held := m.holders[handle]
	return runID, held
}
