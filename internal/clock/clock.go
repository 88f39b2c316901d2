// Package clock abstracts the server clock so that timestamps and periodic
// work can be driven by tests. Production code uses Real(); tests use
// Fake().
package clock

import (
	"sync"
	"time"
)

// Clock returns the current server time and schedules waits against it.
// Code that would call time.Now, time.After or time.NewTicker takes a
// Clock instead.
type Clock interface {
	Now() time.Time

	// After returns a channel that receives once d has elapsed. If
	// d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C, which has capacity 1. Ticks the
// consumer is too slow for are dropped.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. It does not close C.
func (t *Ticker) Stop() { t.stopFunc() }

type realClock struct{}

// Real returns a Clock backed by the time package. Now is truncated to
// millisecond precision so that stored and in-memory timestamps compare
// equal.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stopFunc: ticker.Stop}
}

// Monotonic wraps a Clock so that successive Now calls never go
// backwards, even if the underlying clock is stepped back.
func Monotonic(base Clock) Clock {
	return &monotonic{Clock: base}
}

type monotonic struct {
	Clock

	mu   sync.Mutex
	last time.Time
}

func (m *monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Clock.Now()
	if now.Before(m.last) {
		return m.last
	}
	m.last = now
	return now
}
