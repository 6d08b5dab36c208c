package router

import (
	"context"
	"sync"
	"time"
)

// coalesceWindow is how long the debouncer waits after a catalog version
// bump for further bumps before reapplying session views, so a burst of
// upstream churn (e.g. N tools added in N separate catalog diffs during a
// reconnect) produces one reapply pass instead of N.
const coalesceWindow = 100 * time.Millisecond

// debouncer coalesces repeated Trigger calls into a single fn invocation
// fired delay after the last Trigger.
type debouncer struct {
	fn    func()
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{fn: fn, delay: delay}
}

// Trigger (re)starts the debounce window.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

// Stop cancels any pending invocation.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// startNotifyCoalescer builds the debouncer that Start's catalog subscription
// triggers, coalescing bursts of version bumps into a single ReapplyAll per window so
// sessions aren't diffed once per upstream in a multi-upstream reconnect.
func (r *Router) startNotifyCoalescer(ctx context.Context) *debouncer {
	return newDebouncer(coalesceWindow, func() {
		r.sessions.ReapplyAll(ctx)
	})
}
