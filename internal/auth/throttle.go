package auth

import (
	"sync"
	"time"

	"rdeskd/internal/constants"
)

// ThrottleVerdict is the outcome of a pre-validation throttle check.
type ThrottleVerdict int

const (
	ThrottleAllow ThrottleVerdict = iota
	// ThrottleLockout: 30 cumulative failures reached; rejected until a
	// success clears the record.
	ThrottleLockout
	// ThrottleRateLimited: 6 failures inside the current minute bucket.
	ThrottleRateLimited
)

type failureRecord struct {
	minute   int64 // last-active minute bucket
	inMinute int
	total    int
}

// Throttle bounds password guessing per source IP. Check never consumes an
// attempt; only RecordFailure does. A later success clears the record, so
// throttling never permanently blocks a peer that knows the password.
type Throttle struct {
	mu      sync.Mutex
	records map[string]*failureRecord
	now     func() time.Time
}

func NewThrottle() *Throttle {
	return &Throttle{
		records: make(map[string]*failureRecord),
		now:     time.Now,
	}
}

func (t *Throttle) minute() int64 {
	return t.now().UnixMilli() / 60_000
}

// Check reports whether a password attempt from ip may proceed.
func (t *Throttle) Check(ip string) ThrottleVerdict {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[ip]
	if !ok {
		return ThrottleAllow
	}
	if rec.total >= constants.MaxTotalLoginFailures {
		return ThrottleLockout
	}
	if rec.minute == t.minute() && rec.inMinute >= constants.MaxLoginFailuresPerMin {
		return ThrottleRateLimited
	}
	return ThrottleAllow
}

// RecordFailure increments both counters, resetting the per-minute bucket
// when the minute has advanced.
func (t *Throttle) RecordFailure(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[ip]
	if !ok {
		rec = &failureRecord{}
		t.records[ip] = rec
	}
	min := t.minute()
	if rec.minute == min {
		rec.inMinute++
	} else {
		rec.minute = min
		rec.inMinute = 1
	}
	rec.total++
}

// RecordSuccess clears the record for ip.
func (t *Throttle) RecordSuccess(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, ip)
}
