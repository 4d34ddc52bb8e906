package profile

import (
	"sync"
	"time"
)

// Throttle rate-limits notifications per (profile, location). A busy gate
// produces kills continuously; the subscriber needs to hear about it once
// per window, not once per kill.
type Throttle struct {
	mu         sync.Mutex
	window     time.Duration
	last       map[throttleKey]time.Time
	suppressed int64
}

type throttleKey struct {
	profile string
	system  int32
}

// NewThrottle creates a throttle with the given window (default 5 minutes).
func NewThrottle(window time.Duration) *Throttle {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Throttle{
		window: window,
		last:   make(map[throttleKey]time.Time),
	}
}

// Allow reports whether a notification for the pair may go out at the given
// instant, recording it when allowed. window overrides the throttle default
// when positive, letting profiles carry their own cadence.
func (t *Throttle) Allow(profileID string, system int32, at time.Time, window time.Duration) bool {
	if window <= 0 {
		window = t.window
	}
	key := throttleKey{profile: profileID, system: system}

	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.last[key]; ok && at.Sub(last) < window {
		t.suppressed++
		return false
	}
	t.last[key] = at
	return true
}

// Suppressed returns the number of notifications the throttle has eaten.
func (t *Throttle) Suppressed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suppressed
}

// Sweep drops entries whose last notification predates the cutoff. Called
// periodically so the map does not grow with every location ever notified.
func (t *Throttle) Sweep(olderThan time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, last := range t.last {
		if last.Before(olderThan) {
			delete(t.last, key)
		}
	}
}

// Size returns the number of live throttle entries.
func (t *Throttle) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}
