package sync

import (
	gosync "sync"
	"time"
)

// debouncer coalesces bursts of events into a single trailing-edge callback.
// Trigger replaces any pending callback and restarts the delay; Stop cancels
// whatever is pending. Safe for concurrent use.
type debouncer struct {
	delay time.Duration

	mu    gosync.Mutex
	timer *time.Timer
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{delay: delay}
}

// Trigger schedules fn to run after the delay, superseding any pending fn.
func (d *debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Stop cancels any pending callback.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
