/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

// Package testutil provides helpers for tests.
package testutil

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced clock for tests. The zero value is not
// usable, construct it with NewFakeClock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a new FakeClock set to a fixed point in time.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Unix(1700000000, 0)}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward (or backward, for negative d) by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set sets the clock to the given time.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
