package auth

import (
	"testing"
	"time"
)

func newTestThrottle(start time.Time) (*Throttle, *time.Time) {
	now := start
	th := NewThrottle()
	th.now = func() time.Time { return now }
	return th, &now
}

func TestThrottleSixPerMinute(t *testing.T) {
	th, _ := newTestThrottle(time.Unix(1_000_000, 0))
	ip := "10.0.0.1"

	for i := 0; i < 6; i++ {
		if v := th.Check(ip); v != ThrottleAllow {
			t.Fatalf("attempt %d: expected allow, got %v", i+1, v)
		}
		th.RecordFailure(ip)
	}
	if v := th.Check(ip); v != ThrottleRateLimited {
		t.Fatalf("seventh attempt in minute: expected rate limit, got %v", v)
	}
}

func TestThrottleMinuteRollover(t *testing.T) {
	th, now := newTestThrottle(time.Unix(1_000_000, 0))
	ip := "10.0.0.1"

	for i := 0; i < 6; i++ {
		th.RecordFailure(ip)
	}
	if v := th.Check(ip); v != ThrottleRateLimited {
		t.Fatalf("expected rate limit before rollover, got %v", v)
	}

	*now = now.Add(61 * time.Second)
	if v := th.Check(ip); v != ThrottleAllow {
		t.Fatalf("expected allow after minute rollover, got %v", v)
	}
}

func TestThrottleTotalLockout(t *testing.T) {
	th, now := newTestThrottle(time.Unix(1_000_000, 0))
	ip := "10.0.0.1"

	// spread failures across minutes so only the cumulative limit triggers
	for i := 0; i < 30; i++ {
		th.RecordFailure(ip)
		if i%5 == 4 {
			*now = now.Add(time.Minute)
		}
	}
	if v := th.Check(ip); v != ThrottleLockout {
		t.Fatalf("31st attempt: expected lockout, got %v", v)
	}

	// rolling the clock does not clear a lockout
	*now = now.Add(time.Hour)
	if v := th.Check(ip); v != ThrottleLockout {
		t.Fatalf("lockout must persist across time, got %v", v)
	}
}

func TestThrottleSuccessClears(t *testing.T) {
	th, _ := newTestThrottle(time.Unix(1_000_000, 0))
	ip := "10.0.0.1"

	for i := 0; i < 6; i++ {
		th.RecordFailure(ip)
	}
	th.RecordSuccess(ip)
	if v := th.Check(ip); v != ThrottleAllow {
		t.Fatalf("expected allow after success, got %v", v)
	}
}

func TestThrottlePerIP(t *testing.T) {
	th, _ := newTestThrottle(time.Unix(1_000_000, 0))
	for i := 0; i < 6; i++ {
		th.RecordFailure("10.0.0.1")
	}
	if v := th.Check("10.0.0.2"); v != ThrottleAllow {
		t.Fatalf("unrelated ip throttled, got %v", v)
	}
}
