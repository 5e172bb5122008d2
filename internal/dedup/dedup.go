// Package dedup suppresses duplicate webhook redeliveries within a short
// window. The guard is best-effort and process-local; durable idempotency for
// comment events is the processed_comments ledger's job.
package dedup

import (
	"sync"
	"time"
)

// Guard is injected into the webhook router so tests can supply a fresh
// instance per run.
type Guard interface {
	Seen(key string) bool
	Remember(key string)
}

type ttlGuard struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	seen    map[string]time.Time
	now     func() time.Time
}

// NewTTLGuard returns a Guard that forgets keys after ttl. Eviction is
// opportunistic: expired entries are swept only when the map grows past
// maxSize, matching the tolerance for approximation in the webhook path.
func NewTTLGuard(ttl time.Duration, maxSize int) Guard {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &ttlGuard{
		ttl:     ttl,
		maxSize: maxSize,
		seen:    make(map[string]time.Time),
		now:     time.Now,
	}
}

func (g *ttlGuard) Seen(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	at, ok := g.seen[key]
	if !ok {
		return false
	}
	if g.now().Sub(at) > g.ttl {
		delete(g.seen, key)
		return false
	}
	return true
}

func (g *ttlGuard) Remember(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.seen) >= g.maxSize {
		cutoff := g.now().Add(-g.ttl)
		for k, at := range g.seen {
			if at.Before(cutoff) {
				delete(g.seen, k)
			}
		}
	}
	g.seen[key] = g.now()
}
