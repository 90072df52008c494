package airworthiness

import (
	"sync"
	"time"

	"fleet_ledger/internal/clock"
)

// entry holds a cached report with its expiration time and insertion order.
type entry struct {
	report     *Report
	expiresAt  time.Time
	insertedAt time.Time
}

// reportCache is a size-bounded TTL cache of aircraft reports. An entry also
// expires at the report's next calendar boundary, since a calendar schedule
// can change status at that instant without any write.
//
// Every Invalidate bumps a generation counter. A report computed before an
// invalidation is not stored, so a slow reader cannot resurrect stale state.
type reportCache struct {
	mu         sync.Mutex
	clock      clock.Clock
	items      map[string]*entry
	maxSize    int
	ttl        time.Duration
	generation uint64
}

func newReportCache(clk clock.Clock, maxSize int, ttl time.Duration) *reportCache {
	if maxSize < 1 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &reportCache{
		clock:   clk,
		items:   make(map[string]*entry, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// get returns the cached report and the current generation. Expired entries
// are lazily deleted.
func (c *reportCache) get(aircraftID string) (*Report, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[aircraftID]
	if !ok {
		return nil, c.generation, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.items, aircraftID)
		return nil, c.generation, false
	}
	return e.report, c.generation, true
}

// set stores r unless the cache was invalidated since generation was read.
func (c *reportCache) set(aircraftID string, r *Report, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return
	}

	now := c.clock.Now()
	expires := now.Add(c.ttl)
	if r.NextBoundary != nil && r.NextBoundary.Before(expires) {
		expires = *r.NextBoundary
	}
	if !now.Before(expires) {
		return
	}

	if _, ok := c.items[aircraftID]; !ok && len(c.items) >= c.maxSize {
		c.evictOldest()
	}
	c.items[aircraftID] = &entry{report: r, expiresAt: expires, insertedAt: now}
}

func (c *reportCache) invalidate(aircraftIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	for _, id := range aircraftIDs {
		delete(c.items, id)
	}
}

func (c *reportCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// evictOldest removes the entry with the oldest insertedAt timestamp.
// Must be called with c.mu held.
func (c *reportCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for k, e := range c.items {
		if first || e.insertedAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.insertedAt
			first = false
		}
	}

	if !first {
		delete(c.items, oldestKey)
	}
}
