package clock

import (
	"sync"
	"time"
)

// Clock provides time information and periodic ticks.
// This interface allows time to be mocked in tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock provides actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// NewTicker wraps time.NewTicker.
func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// TestClock is a manually advanced clock for tests.
type TestClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*testTicker
}

// NewTestClock returns a TestClock reading start.
func NewTestClock(start time.Time) *TestClock {
	return &TestClock{now: start}
}

// Now returns the test time.
func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NewTicker returns a ticker that fires as Advance moves past each period.
func (c *TestClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &testTicker{
		clock:  c,
		period: d,
		next:   c.now.Add(d),
		ch:     make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves the clock forward by d and fires any tickers that came due.
// Like time.Ticker, a tick is dropped when the previous one is unread.
func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.tickers {
		for !t.next.After(c.now) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}
}

type testTicker struct {
	clock  *TestClock
	period time.Duration
	next   time.Time
	ch     chan time.Time
}

func (t *testTicker) C() <-chan time.Time { return t.ch }

func (t *testTicker) Stop() {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.tickers {
		if other == t {
			c.tickers = append(c.tickers[:i], c.tickers[i+1:]...)
			return
		}
	}
}
