package timex

import (
	"sync"
	"time"
)

// Clock returns the current time. Components take a Clock instead of calling
// time.Now so tests can pin timestamps.
type Clock func() time.Time

// System is the wall clock.
func System() time.Time { return time.Now() }

// Millis returns the Unix millisecond timestamp used for record times.
func (c Clock) Millis() int64 {
	if c == nil {
		return time.Now().UnixMilli()
	}
	return c().UnixMilli()
}

// FromMillis converts a record timestamp back to time.Time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// ManualClock is a settable clock for tests.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

func (m *ManualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *ManualClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func (m *ManualClock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
