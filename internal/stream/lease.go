package stream

import (
	"sync"
	"time"
)

// Lease is a resolved stream URL valid until ExpiresAt.
type Lease struct {
	URL       string
	ExpiresAt time.Time
}

// Valid reports whether the lease can still be used at now.
func (l Lease) Valid(now time.Time) bool {
	return l.URL != "" && now.Before(l.ExpiresAt)
}

// LeaseCache maps track ids to their current lease. It never persists and never evicts;
// an expired lease is simply not returned and gets overwritten by the next resolution.
type LeaseCache struct {
	mu     sync.RWMutex
	leases map[string]Lease
	now    func() time.Time
}

// NewLeaseCache creates an empty cache using the wall clock.
func NewLeaseCache() *LeaseCache {
	return NewLeaseCacheWithClock(time.Now)
}

// NewLeaseCacheWithClock creates an empty cache reading time from now.
func NewLeaseCacheWithClock(now func() time.Time) *LeaseCache {
	return &LeaseCache{leases: make(map[string]Lease), now: now}
}

// Get returns the lease of trackID if it has not expired.
func (c *LeaseCache) Get(trackID string) (Lease, bool) {
	c.mu.RLock()
	lease, ok := c.leases[trackID]
	c.mu.RUnlock()

	if !ok || !lease.Valid(c.now()) {
		return Lease{}, false
	}
	return lease, true
}

// Put stores or replaces the lease of trackID.
func (c *LeaseCache) Put(trackID, url string, expiresAt time.Time) {
	c.mu.Lock()
	c.leases[trackID] = Lease{URL: url, ExpiresAt: expiresAt}
	c.mu.Unlock()
}

// Invalidate drops the lease of trackID.
func (c *LeaseCache) Invalidate(trackID string) {
	c.mu.Lock()
	delete(c.leases, trackID)
	c.mu.Unlock()
}

// Len returns the number of stored leases, expired ones included.
func (c *LeaseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.leases)
}
