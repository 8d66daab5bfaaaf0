package vm

import (
	"sync"
	"time"
)

// Clock is the time source of timer futures.
type Clock interface {
	Now() time.Time
	// Until returns a channel that receives once t is reached.
	Until(t time.Time) <-chan time.Time
}

// RealClock waits on the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Until(t time.Time) <-chan time.Time {
	return time.After(time.Until(t))
}

// VirtualClock never sleeps: the scheduler only asks it to wait when every
// task is parked, and it jumps straight to the requested deadline.
type VirtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewVirtualClock() *VirtualClock {
	return &VirtualClock{now: time.Unix(0, 0).UTC()}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *VirtualClock) Until(t time.Time) <-chan time.Time {
	c.mu.Lock()
	if t.After(c.now) {
		c.now = t
	}
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance moves the clock forward by d.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Elapsed is the virtual time since the clock was created.
func (c *VirtualClock) Elapsed() time.Duration {
	return c.Now().Sub(time.Unix(0, 0).UTC())
}
