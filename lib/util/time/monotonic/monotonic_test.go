package monotonic

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockNow(t *testing.T) {
	before := time.Now()
	now := NewClock().Now()
	after := time.Now()

	assert.False(t, now.Before(before))
	assert.False(t, now.After(after))
}

func TestManualAdvance(t *testing.T) {
	start := time.Unix(1000, 0)
	m := NewManual(start)
	assert.Equal(t, start, m.Now())

	m.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), m.Now())

	assert.Panics(t, func() { m.Advance(-time.Second) })
}

func TestManualConcurrentUse(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Advance(time.Second)
			_ = m.Now()
		}()
	}
	wg.Wait()
	assert.Equal(t, time.Unix(10, 0), m.Now())
}

func TestIsExpiredAt(t *testing.T) {
	start := time.Unix(0, 0)
	m := NewManual(start)

	tests := []struct {
		name    string
		advance time.Duration
		want    bool
	}{
		{name: "fresh", advance: 0, want: false},
		{name: "just before", advance: 59 * time.Second, want: false},
		{name: "at lifetime", advance: time.Second, want: true},
		{name: "well past", advance: time.Hour, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.Advance(tt.advance)
			assert.Equal(t, tt.want, IsExpiredAt(m, start, time.Minute))
		})
	}
}

func TestOrSystem(t *testing.T) {
	assert.IsType(t, Clock{}, OrSystem(nil))
	m := NewManual(time.Unix(5, 0))
	assert.Same(t, m, OrSystem(m))
}
