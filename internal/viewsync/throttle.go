package viewsync

import (
	"sync"
	"time"
)

// Throttler runs a callback at most once per interval. The first call after
// a quiet interval runs immediately; calls inside the interval collapse into
// one trailing run at the end of it.
//
// Thread-safety: All methods are safe for concurrent use.
type Throttler struct {
	mu       sync.Mutex
	interval time.Duration
	lastCall time.Time
	pending  bool
	seq      uint64 // sequence number to detect stale callbacks
	timer    *time.Timer
	callback func()
}

// NewThrottler creates a throttler with the given interval.
func NewThrottler(interval time.Duration, callback func()) *Throttler {
	return &Throttler{
		interval: interval,
		callback: callback,
	}
}

// Call runs the callback now or schedules it for the end of the interval.
func (t *Throttler) Call() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(t.lastCall)

	if elapsed >= t.interval {
		t.lastCall = now
		go t.callback()
		return
	}

	t.pending = true
	if t.timer != nil {
		return
	}
	t.seq++
	currentSeq := t.seq
	t.timer = time.AfterFunc(t.interval-elapsed, func() {
		t.mu.Lock()
		if t.pending && t.seq == currentSeq {
			t.pending = false
			t.lastCall = time.Now()
			t.timer = nil
			t.mu.Unlock()
			t.callback()
		} else {
			t.mu.Unlock()
		}
	})
}

// Pending reports whether a trailing call is scheduled.
func (t *Throttler) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Cancel drops any scheduled trailing call and restarts the interval, so a
// caller that just delivered synchronously is not followed by a stale run.
// Callbacks already running are not interrupted.
func (t *Throttler) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	// Increment seq to invalidate any running timer callback
	t.seq++
	t.pending = false
	t.lastCall = time.Now()
}
