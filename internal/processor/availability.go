package processor

import (
	"sync/atomic"
	"time"
)

type availability struct {
	downAt    atomic.Int64
	lastProbe atomic.Int64
}

// AvailabilityCache remembers processors that recently failed. The set of
// processors is fixed at construction so lookups need no lock.
type AvailabilityCache struct {
	ttl     time.Duration
	entries map[string]*availability
}

func NewAvailabilityCache(ttl time.Duration, ids ...string) *AvailabilityCache {
	c := &AvailabilityCache{ttl: ttl, entries: make(map[string]*availability, len(ids))}
	for _, id := range ids {
		c.entries[id] = &availability{}
	}
	return c
}

// IsDown reports whether id was marked unavailable less than ttl ago.
func (c *AvailabilityCache) IsDown(id string, now time.Time) bool {
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	d := e.downAt.Load()
	return d != 0 && now.UnixNano()-d < int64(c.ttl)
}

// DownSince returns when id was marked unavailable, if it still is.
func (c *AvailabilityCache) DownSince(id string, now time.Time) (time.Time, bool) {
	if !c.IsDown(id, now) {
		return time.Time{}, false
	}
	return time.Unix(0, c.entries[id].downAt.Load()), true
}

// MarkDown records a failure at now and restarts the probe interval.
func (c *AvailabilityCache) MarkDown(id string, now time.Time) {
	if e, ok := c.entries[id]; ok {
		e.downAt.Store(now.UnixNano())
		e.lastProbe.Store(now.UnixNano())
	}
}

// MarkUp clears any failure mark for id.
func (c *AvailabilityCache) MarkUp(id string) {
	if e, ok := c.entries[id]; ok {
		e.downAt.Store(0)
	}
}

// TryProbe claims the probe slot for id if at least interval has passed
// since the last probe or failure. Only one caller wins per interval.
func (c *AvailabilityCache) TryProbe(id string, now time.Time, interval time.Duration) bool {
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	last := e.lastProbe.Load()
	if now.UnixNano()-last < int64(interval) {
		return false
	}
	return e.lastProbe.CompareAndSwap(last, now.UnixNano())
}
