// Package control holds the breaker that pauses polling after repeated
// transport failures.
package control

import "time"

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker counts consecutive failures per error class. It is not safe
// for concurrent use; the poll loop owns it.
type CircuitBreaker struct {
	Threshold int
	Cooldown  time.Duration

	state       CircuitState
	failures    map[string]int
	openedAt    time.Time
	openedClass string
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		state:     CircuitClosed,
		failures:  map[string]int{},
	}
}

func (c *CircuitBreaker) State() CircuitState {
	return c.state
}

// Allow reports whether a poll may run at now. An open breaker whose cooldown
// has elapsed moves to half-open and lets one probe through.
func (c *CircuitBreaker) Allow(now time.Time) bool {
	if c.state != CircuitOpen {
		return true
	}
	if now.Sub(c.openedAt) >= c.Cooldown {
		c.state = CircuitHalfOpen
		return true
	}
	return false
}

// Remaining returns how long an open breaker will keep denying polls.
func (c *CircuitBreaker) Remaining(now time.Time) time.Duration {
	if c.state != CircuitOpen {
		return 0
	}
	if d := c.Cooldown - now.Sub(c.openedAt); d > 0 {
		return d
	}
	return 0
}

// RecordSuccess closes the breaker and reports whether it was not already
// closed.
func (c *CircuitBreaker) RecordSuccess() bool {
	recovered := c.state != CircuitClosed
	c.state = CircuitClosed
	c.openedClass = ""
	c.failures = map[string]int{}
	return recovered
}

// RecordFailure counts a failure in errClass and reports whether this call
// opened the breaker. A failed half-open probe reopens it immediately.
func (c *CircuitBreaker) RecordFailure(errClass string, now time.Time) bool {
	if errClass == "" {
		errClass = "unknown"
	}
	if c.state == CircuitHalfOpen {
		c.open(errClass, now)
		return true
	}
	c.failures[errClass]++
	if c.state == CircuitClosed && c.failures[errClass] >= c.Threshold {
		c.open(errClass, now)
		return true
	}
	return false
}

func (c *CircuitBreaker) open(errClass string, now time.Time) {
	c.state = CircuitOpen
	c.openedAt = now
	c.openedClass = errClass
}

func (c *CircuitBreaker) OpenedClass() string {
	return c.openedClass
}
