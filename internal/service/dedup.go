package service

import (
	"sync"
	"time"
)

// alertDedup suppresses repeat alerts for the same key within a TTL window.
// It is safe for concurrent use.
type alertDedup struct {
	mu   sync.Mutex
	seen map[string]time.Time // key -> last alert
	ttl  time.Duration
}

func newAlertDedup(ttl time.Duration) *alertDedup {
	return &alertDedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// firstSince reports whether key has not alerted within the TTL as of now,
// and records now as its latest alert when it has not.
func (d *alertDedup) firstSince(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return false
	}
	d.seen[key] = now
	return true
}

// forget drops key so its next alert fires immediately.
func (d *alertDedup) forget(key string) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// cleanup removes entries older than the TTL.
func (d *alertDedup) cleanup(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, last := range d.seen {
		if now.Sub(last) >= d.ttl {
			delete(d.seen, key)
		}
	}
}

func (d *alertDedup) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
