package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced clock for tests.
//
// Time only moves when Advance is called. Pending After channels and tickers
// whose deadline falls inside the advanced window fire in deadline order.
// Like time.Ticker, a fake ticker drops ticks its reader has not consumed.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
	ticker   *fakeTicker
}

// NewFakeClock creates a FakeClock starting at the given time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the fake duration since t.
func (c *FakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// After returns a channel that receives once the clock has advanced by d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, &waiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

// NewTicker returns a Ticker that fires every d of fake time.
func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTicker{clock: c, interval: d, ch: make(chan time.Time, 1)}
	c.waiters = append(c.waiters, &waiter{deadline: c.now.Add(d), ticker: t})
	return t
}

// Advance moves the clock forward by d, firing every timer that expires.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		next := c.nextDue(target)
		if next < 0 {
			break
		}
		w := c.waiters[next]
		c.waiters = append(c.waiters[:next], c.waiters[next+1:]...)
		c.now = w.deadline

		if w.ticker != nil {
			if w.ticker.stopped {
				continue
			}
			select {
			case w.ticker.ch <- w.deadline:
			default:
			}
			w.deadline = w.deadline.Add(w.ticker.interval)
			c.waiters = append(c.waiters, w)
			continue
		}
		w.ch <- w.deadline
	}
	c.now = target
	c.mu.Unlock()
}

// WaiterCount reports how many timers and tickers are pending.
func (c *FakeClock) WaiterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// nextDue returns the index of the earliest waiter due at or before target,
// or -1. Caller holds c.mu.
func (c *FakeClock) nextDue(target time.Time) int {
	idx := -1
	for i, w := range c.waiters {
		if w.deadline.After(target) {
			continue
		}
		if idx < 0 || w.deadline.Before(c.waiters[idx].deadline) {
			idx = i
		}
	}
	return idx
}

type fakeTicker struct {
	clock    *FakeClock
	interval time.Duration
	ch       chan time.Time
	stopped  bool
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
	t.clock.removeTicker(t)
}

func (t *fakeTicker) Reset(d time.Duration) {
	if d <= 0 {
		panic("non-positive interval for Reset")
	}
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.clock.removeTicker(t)
	t.stopped = false
	t.interval = d
	t.clock.waiters = append(t.clock.waiters, &waiter{deadline: t.clock.now.Add(d), ticker: t})
}

// removeTicker drops t's pending waiter. Caller holds c.mu.
func (c *FakeClock) removeTicker(t *fakeTicker) {
	for i, w := range c.waiters {
		if w.ticker == t {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}
