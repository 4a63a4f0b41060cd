package orchestrator

import (
	"sync"
	"time"
)

// Dedup remembers idempotency keys for a TTL. A key is claimed before the
// venue call; it is released when nothing reached the venue and completed
// with the outcome otherwise, so a retry with the same key replays the
// outcome instead of trading again. Safe for concurrent use.
type Dedup struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]dedupEntry
	now  func() time.Time
}

type dedupEntry struct {
	at      time.Time
	done    bool
	outcome Outcome
}

// NewDedup creates a Dedup with the given TTL.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		ttl:  ttl,
		seen: make(map[string]dedupEntry),
		now:  time.Now,
	}
}

// Claim records key. It reports false when key was already claimed within
// the TTL, together with the stored outcome if that call has finished.
func (d *Dedup) Claim(key string) (prev Outcome, finished bool, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if e, seen := d.seen[key]; seen && now.Sub(e.at) < d.ttl {
		return e.outcome, e.done, false
	}
	d.seen[key] = dedupEntry{at: now}
	return Outcome{}, false, true
}

// Complete stores the outcome for key.
func (d *Dedup) Complete(key string, o Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = dedupEntry{at: d.now(), done: true, outcome: o}
}

// Release forgets key.
func (d *Dedup) Release(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// Cleanup drops expired keys.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, e := range d.seen {
		if now.Sub(e.at) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
