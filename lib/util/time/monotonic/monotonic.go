package monotonic

import (
	"sync"
	"time"
)

// TimeSource returns the current time.
type TimeSource interface {
	Now() time.Time
}

// Clock reads time.Now(), keeping the monotonic reading.
type Clock struct{}

// NewClock returns the system clock.
func NewClock() Clock {
	return Clock{}
}

// Now returns time.Now().
func (Clock) Now() time.Time {
	return time.Now()
}

// Manual is a TimeSource that only moves when told to. It is safe for
// concurrent use.
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual returns a Manual clock reading start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Advance moves the clock forward by d. Negative durations panic.
func (m *Manual) Advance(d time.Duration) {
	if d < 0 {
		panic("monotonic: negative advance")
	}
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// IsExpiredAt reports whether lifetime has elapsed since start according to src.
func IsExpiredAt(src TimeSource, start time.Time, lifetime time.Duration) bool {
	return src.Now().Sub(start) >= lifetime
}

// OrSystem returns src, or the system clock when src is nil.
func OrSystem(src TimeSource) TimeSource {
	if src == nil {
		return NewClock()
	}
	return src
}
