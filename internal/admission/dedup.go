package admission

import (
	"context"
	"sync"
	"time"
)

// MemoryDedup is a process-local Dedup with lazy expiry.
type MemoryDedup struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]time.Time
	writes  int
}

// NewMemoryDedup returns an empty dedup set. A nil clock means time.Now.
func NewMemoryDedup(now func() time.Time) *MemoryDedup {
	if now == nil {
		now = time.Now
	}
	return &MemoryDedup{now: now, entries: make(map[string]time.Time)}
}

// Seen implements Dedup.
func (d *MemoryDedup) Seen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if exp, ok := d.entries[key]; ok && now.Before(exp) {
		return true, nil
	}
	d.entries[key] = now.Add(ttl)
	d.writes++
	if d.writes%1024 == 0 {
		for k, exp := range d.entries {
			if !now.Before(exp) {
				delete(d.entries, k)
			}
		}
	}
	return false, nil
}
