// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"fmt"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance (or WaitAdvance) is called. After and Sleep
// register pending waiters that fire when the clock advances past
// their deadline.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.waitersChanged = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for testing. Time advances only
// when Advance is called. Waiters created by After and Sleep block
// until the clock is advanced past their deadline.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	waiters        []*fakeWaiter
	waitersChanged *sync.Cond
}

// fakeWaiter is a pending After or Sleep operation.
type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time
	fired    bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives after duration d elapses in
// fake time. If d <= 0, the channel receives immediately without
// registering a waiter.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}

	c.waiters = append(c.waiters, &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	c.waitersChanged.Broadcast()
	return channel
}

// Sleep blocks until the clock is advanced past the deadline.
func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Advance moves the fake time forward by d, firing every waiter whose
// deadline has been reached. Waiters fire in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)

	remaining := c.waiters[:0]
	for _, waiter := range c.waiters {
		if waiter.fired {
			continue
		}
		if !waiter.deadline.After(c.current) {
			waiter.fired = true
			waiter.channel <- c.current
			continue
		}
		remaining = append(remaining, waiter)
	}
	c.waiters = remaining
}

// WaitAdvance waits until at least n waiters are registered, then
// advances the clock by d. It fails with an error after timeout (real
// time) if the waiters never appear. Use this to synchronize with a
// goroutine that is about to block on After or Sleep:
//
//	go worker(fakeClock)
//	if err := fakeClock.WaitAdvance(time.Second, 5*time.Second, 1); err != nil { ... }
func (c *FakeClock) WaitAdvance(d, timeout time.Duration, n int) error {
	deadline := time.Now().Add(timeout)

	done := make(chan struct{})
	defer close(done)
	// The cond has no timed wait; a watchdog broadcast wakes the
	// waiting loop so it can observe the deadline.
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(10 * time.Millisecond):
				c.waitersChanged.Broadcast()
			}
		}
	}()

	c.mu.Lock()
	for len(c.waiters) < n {
		if time.Now().After(deadline) {
			waiting := len(c.waiters)
			c.mu.Unlock()
			return fmt.Errorf("clock: timed out after %v waiting for %d waiters, have %d", timeout, n, waiting)
		}
		c.waitersChanged.Wait()
	}
	c.mu.Unlock()

	c.Advance(d)
	return nil
}
