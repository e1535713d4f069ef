// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"sync"
	"time"
)

// Clock is the time source behind periodic work. Production code runs on
// SystemClock; tests drive a ManualClock by hand.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock delegates to the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ManualClock is a Clock that only moves when told to. Timers created with
// After fire during Advance or Set once their deadline is reached.
type ManualClock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	pending []manualTimer
}

type manualTimer struct {
	fires time.Time
	ch    chan time.Time
}

// NewManualClock returns a ManualClock starting at the given instant.
func NewManualClock(start time.Time) *ManualClock {
	c := &ManualClock{now: start}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a timer firing once the clock reaches now+d. A
// non-positive duration fires immediately.
func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.pending = append(c.pending, manualTimer{fires: c.now.Add(d), ch: ch})
	c.cond.Broadcast()
	return ch
}

// Advance moves the clock forward by d, firing every timer whose deadline
// falls within the step.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.fire()
}

// Set jumps the clock to t. Moving backward never un-fires a timer.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
	c.fire()
}

// BlockUntil returns once at least n timers are pending. Tests call it
// before Advance so a timer registered by another goroutine is guaranteed
// to be in place.
func (c *ManualClock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.cond.Wait()
	}
}

// Waiters reports how many timers are pending.
func (c *ManualClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// fire delivers every due timer and drops it from the pending set. Callers
// hold mu. The channels are buffered, so delivery never blocks.
func (c *ManualClock) fire() {
	kept := c.pending[:0]
	for _, tm := range c.pending {
		if tm.fires.After(c.now) {
			kept = append(kept, tm)
			continue
		}
		tm.ch <- c.now
	}
	c.pending = kept
}
