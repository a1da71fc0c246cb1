package api

import (
	"sync"
	"time"
)

// eventClock stamps events in UnixNano. Stamps from one clock never repeat,
// even when the wall clock stalls or steps back.
type eventClock struct {
	now func() time.Time

	mu   sync.Mutex
	last int64
}

func newEventClock(now func() time.Time) *eventClock {
	if now == nil {
		now = time.Now
	}
	return &eventClock{now: now}
}

func (c *eventClock) stamp() int64 {
	t := c.now().UnixNano()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = max(t, c.last+1)
	return c.last
}
