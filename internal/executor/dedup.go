package executor

import (
	"sync"
	"time"
)

// Dedup remembers idempotency keys the executor has already acted on within a
// time-to-live window, so a height replayed by the feed does not trigger a
// second quote/submit cycle. It is safe for concurrent use. The store CAS and
// the exchange's key de-duplication remain the correctness backstops; this
// only saves wasted round trips.
type Dedup struct {
	seen map[string]time.Time // idempotency key -> first seen
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a key as a duplicate when it was seen
// within ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate reports whether key was seen within the TTL window, recording
// it if not.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if seenAt, ok := d.seen[key]; ok && now.Sub(seenAt) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Forget drops a key so a later attempt may run again before the TTL lapses,
// used when an attempt failed before reaching the store.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// Cleanup removes expired entries. Call periodically to bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, seenAt := range d.seen {
		if now.Sub(seenAt) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
