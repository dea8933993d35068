package testsuite

import (
	"context"
	"sync"
	"time"
)

type waiter struct {
	deadline time.Time
	wake     chan struct{}
}

// FakeClock satisfies payments.Clock. In auto mode Sleep advances the clock
// instead of blocking, so confirmation waits run in no real time. In manual
// mode Sleep parks until Advance moves the clock past the deadline, letting
// a test hold an attempt in flight.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	auto    bool
	waiters []waiter
}

// NewFakeClock returns an auto-advancing fake clock.
func NewFakeClock(start time.Time) (c *FakeClock) {
	return &FakeClock{now: start, auto: true}
}

// NewManualClock returns a fake clock whose sleepers block until Advance.
func NewManualClock(start time.Time) (c *FakeClock) {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() (now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)

	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.now) {
			close(w.wake)
			continue
		}
		remaining = append(remaining, w)
	}
	c.waiters = remaining
}

func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) (err error) {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.mu.Lock()
	if c.auto {
		c.now = c.now.Add(d)
		c.mu.Unlock()
		return nil
	}

	w := waiter{deadline: c.now.Add(d), wake: make(chan struct{})}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	select {
	case <-w.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
