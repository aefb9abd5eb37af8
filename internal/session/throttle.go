package session

import (
	"sync"
	"time"
)

// Throttle enforces a minimum interval between refreshes, whether manual or polled.
type Throttle struct {
	min time.Duration
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

func NewThrottle(minInterval time.Duration, now func() time.Time) *Throttle {
	if now == nil {
		now = time.Now
	}
	return &Throttle{min: minInterval, now: now}
}

// Allow reports whether a refresh may run now and, if so, records it.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.min {
		return false
	}
	t.last = now
	return true
}

// Touch records a refresh that bypassed Allow.
func (t *Throttle) Touch() {
	t.mu.Lock()
	t.last = t.now()
	t.mu.Unlock()
}
