package executor

import (
	"sync"
	"time"
)

// Dedup drops trade ids already seen within a TTL window. Stream reconnects
// may replay recent fills. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // tradeID -> first seen
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate records id and reports whether it was already seen within the
// window. Expired entries are swept opportunistically.
func (d *Dedup) IsDuplicate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if first, ok := d.seen[id]; ok && now.Sub(first) < d.ttl {
		return true
	}
	d.seen[id] = now
	if len(d.seen) > 1024 {
		for k, ts := range d.seen {
			if now.Sub(ts) >= d.ttl {
				delete(d.seen, k)
			}
		}
	}
	return false
}
