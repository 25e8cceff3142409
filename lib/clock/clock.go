// Copyright 2026 The matrix-migrate Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for testability. Production
// code injects Real(); tests inject Fake() and advance time
// deterministically.
//
// Every production function that computes retry backoff or waits
// between protocol calls accepts a Clock (or is a method on a struct
// with a Clock field) instead of calling the time package directly.
// This keeps the executor's exponential backoff and the snapshotter's
// per-room retry waits testable without real sleeps.
package clock

import "time"

// Clock provides the time operations the migration engine uses.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. Equivalent to time.After. If d <= 0, the
	// channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the current goroutine for at least duration d.
	// Equivalent to time.Sleep.
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
