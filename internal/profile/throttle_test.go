package profile

import (
	"testing"
	"time"
)

func TestThrottleWindow(t *testing.T) {
	th := NewThrottle(5 * time.Minute)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if !th.Allow("p1", 30002813, base, 0) {
		t.Fatal("first notification should pass")
	}
	// One minute later: inside the window, suppressed.
	if th.Allow("p1", 30002813, base.Add(1*time.Minute), 0) {
		t.Error("notification 1m later should be throttled")
	}
	// Six minutes after the first: window elapsed.
	if !th.Allow("p1", 30002813, base.Add(6*time.Minute), 0) {
		t.Error("notification 6m later should pass")
	}
	if got := th.Suppressed(); got != 1 {
		t.Errorf("suppressed = %d, want 1", got)
	}
}

func TestThrottleKeysAreIndependent(t *testing.T) {
	th := NewThrottle(5 * time.Minute)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if !th.Allow("p1", 30002813, at, 0) {
		t.Fatal("first pair should pass")
	}
	if !th.Allow("p2", 30002813, at, 0) {
		t.Error("different profile, same system should pass")
	}
	if !th.Allow("p1", 30002815, at, 0) {
		t.Error("same profile, different system should pass")
	}
}

func TestThrottleProfileOverride(t *testing.T) {
	th := NewThrottle(5 * time.Minute)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if !th.Allow("p1", 30002813, base, time.Minute) {
		t.Fatal("first notification should pass")
	}
	if !th.Allow("p1", 30002813, base.Add(2*time.Minute), time.Minute) {
		t.Error("2m later with a 1m override should pass")
	}
}

func TestThrottleSweep(t *testing.T) {
	th := NewThrottle(5 * time.Minute)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	th.Allow("p1", 30002813, base, 0)
	th.Allow("p1", 30002815, base.Add(time.Hour), 0)
	if th.Size() != 2 {
		t.Fatalf("size = %d, want 2", th.Size())
	}

	th.Sweep(base.Add(30 * time.Minute))
	if th.Size() != 1 {
		t.Errorf("size after sweep = %d, want 1", th.Size())
	}
}
