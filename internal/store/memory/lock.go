package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// LockManager is an in-process domain.LockManager for single-instance and
// paper deployments. Multi-instance deployments use the Redis lock instead.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]time.Time // key -> expiry
	clock func() time.Time
}

// NewLockManager creates a LockManager.
func NewLockManager() *LockManager {
	return &LockManager{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

// Acquire takes the lock for key unless another holder has it and its TTL has
// not lapsed. The returned unlock function is safe to call more than once.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.clock()
	if expiry, ok := lm.held[key]; ok && now.Before(expiry) {
		return nil, domain.ErrLockHeld
	}
	lm.held[key] = now.Add(ttl)

	released := false
	unlock := func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if released {
			return
		}
		released = true
		delete(lm.held, key)
	}
	return unlock, nil
}

var _ domain.LockManager = (*LockManager)(nil)
