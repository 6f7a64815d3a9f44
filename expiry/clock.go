package expiry

import (
	"sync"
	"time"
)

// Clock supplies the current instant; every expiry decision is made relative to it
type Clock interface {
	// Now the current instant
	Now() Instant
}

// SystemClock Clock backed by the host wall clock
type SystemClock struct{}

// Now the current instant
func (SystemClock) Now() Instant {
	return MustInstant(time.Now())
}

// ManualClock a Clock which only moves when told to
type ManualClock struct {
	lock    sync.RWMutex
	current Instant
}

/*
NewManualClock define a manual clock

	@param start time.Time - the initial instant
	@returns clock instance
*/
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{current: MustInstant(start)}
}

// Now the current instant
func (c *ManualClock) Now() Instant {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.current
}

// Set jump to a specific instant
func (c *ManualClock) Set(to Instant) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.current = to
}

// Advance move the clock forward
func (c *ManualClock) Advance(d time.Duration) Instant {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.current = c.current.Add(d)
	return c.current
}
