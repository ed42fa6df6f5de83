// Package testutil holds deterministic helpers shared by package tests.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the wall-clock origin of every Clock.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock is a deterministic logical and wall clock for tests.
//
// Next hands out seq values starting at 1. Now returns Epoch plus one Step
// per call, so timestamps are strictly increasing and identical across runs.
// Safe for concurrent use.
type Clock struct {
	mu   sync.Mutex
	seq  int64
	wall time.Time
	Step time.Duration
}

// NewClock creates a clock at seq 0 and wall time Epoch with a one second step.
func NewClock() *Clock {
	return &Clock{wall: Epoch, Step: time.Second}
}

// Next increments and returns the next sequence number.
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Now advances the wall clock by Step and returns it.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wall = c.wall.Add(c.Step)
	return c.wall
}

// Peek returns the wall clock without advancing it.
func (c *Clock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wall
}

// Advance moves the wall clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wall = c.wall.Add(d)
}

// Reset returns both clocks to their origin.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
	c.wall = Epoch
}
