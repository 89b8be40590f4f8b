// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// It is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	changed *sync.Cond
	now     time.Time
	// sequence orders waiters that share a deadline by arming order.
	sequence uint64
	waiters  []*waiter
}

type waiter struct {
	deadline time.Time
	sequence uint64
	callback func()
	done     bool
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{now: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run during the Advance call that moves the
// clock past now+d. If d <= 0, f runs before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}

	c.mu.Lock()
	entry := &waiter{deadline: c.now.Add(d), callback: f}
	c.addLocked(entry)
	c.mu.Unlock()

	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if entry.done {
			return false
		}
		entry.done = true
		c.removeLocked(entry)
		return true
	}}
}

func (c *FakeClock) addLocked(entry *waiter) {
	c.sequence++
	entry.sequence = c.sequence
	c.waiters = append(c.waiters, entry)
	c.changed.Broadcast()
}

func (c *FakeClock) removeLocked(entry *waiter) {
	for index, candidate := range c.waiters {
		if candidate == entry {
			c.waiters = append(c.waiters[:index], c.waiters[index+1:]...)
			c.changed.Broadcast()
			return
		}
	}
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline is now due, earliest first. The clock reads each waiter's
// deadline while its callback runs, so a callback that arms a new
// timer measures from the moment it was due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.done = true
		c.removeLocked(next)
		c.now = next.deadline
		c.mu.Unlock()

		next.callback()
	}
}

func (c *FakeClock) nextDueLocked(target time.Time) *waiter {
	if len(c.waiters) == 0 {
		return nil
	}
	sort.Slice(c.waiters, func(i, j int) bool {
		if c.waiters[i].deadline.Equal(c.waiters[j].deadline) {
			return c.waiters[i].sequence < c.waiters[j].sequence
		}
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
	if c.waiters[0].deadline.After(target) {
		return nil
	}
	return c.waiters[0]
}

// PendingTimers returns the number of armed waiters.
func (c *FakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// WaitForTimers blocks until at least n waiters are armed. Use it
// before Advance when the timer is armed on another goroutine.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < n {
		c.changed.Wait()
	}
}
