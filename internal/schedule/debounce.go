// Package schedule runs deferred tasks keyed by entity, one pending task per key.
package schedule

import (
	"sort"
	"sync"
	"time"
)

type task struct {
	timer *time.Timer
	fn    func()
}

// Debouncer coalesces bursts of Schedule calls for a key into one call of the
// last submitted function after the quiet period. A task whose function has
// started is never interrupted.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*task
	closed  bool
}

func NewDebouncer() *Debouncer {
	return &Debouncer{pending: make(map[string]*task)}
}

// Schedule replaces any pending task for key with fn, due after delay.
// Once the debouncer is closed fn runs immediately on the caller's goroutine.
func (d *Debouncer) Schedule(key string, delay time.Duration, fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		fn()
		return
	}
	if old, ok := d.pending[key]; ok {
		old.timer.Stop()
	}
	t := &task{fn: fn}
	d.pending[key] = t
	t.timer = time.AfterFunc(delay, func() { d.fire(key, t) })
	d.mu.Unlock()
}

// whoever removes a task from pending runs it, so each task runs at most once
func (d *Debouncer) fire(key string, t *task) {
	d.mu.Lock()
	if d.pending[key] != t {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()
	t.fn()
}

// Pending reports whether key has a task waiting.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Len is the number of tasks waiting.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Cancel drops the pending task for key without running it.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.pending[key]
	if ok {
		t.timer.Stop()
		delete(d.pending, key)
	}
	return ok
}

// Flush runs the pending task for key now and reports whether there was one.
func (d *Debouncer) Flush(key string) bool {
	d.mu.Lock()
	t, ok := d.pending[key]
	if ok {
		t.timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if ok {
		t.fn()
	}
	return ok
}

// FlushAll runs every pending task now, in key order.
func (d *Debouncer) FlushAll() {
	d.mu.Lock()
	keys := make([]string, 0, len(d.pending))
	for k := range d.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tasks := make([]*task, 0, len(keys))
	for _, k := range keys {
		t := d.pending[k]
		t.timer.Stop()
		delete(d.pending, k)
		tasks = append(tasks, t)
	}
	d.mu.Unlock()
	for _, t := range tasks {
		t.fn()
	}
}

// Close flushes pending tasks. Later Schedule calls run their task at once.
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.FlushAll()
}
