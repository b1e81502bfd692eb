package core

import "time"

type Clock struct {
	start   time.Time
	elapsed time.Duration
}

func NewClock() *Clock {
	return &Clock{}
}

// Update refreshes the elapsed time. Has no effect on a stopped clock.
func (c *Clock) Update() {
	if !c.start.IsZero() {
		c.elapsed = time.Since(c.start)
	}
}

// Start (re)starts the clock and resets the elapsed time.
func (c *Clock) Start() {
	c.start = time.Now()
	c.elapsed = 0
}

// Stop stops the clock. The elapsed time is kept.
func (c *Clock) Stop() {
	c.start = time.Time{}
}

// Elapsed returns the elapsed time in seconds as of the last Update.
func (c *Clock) Elapsed() float64 {
	return c.elapsed.Seconds()
}
