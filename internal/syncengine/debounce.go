package syncengine

import (
	"sync"
	"time"
)

// debouncer keeps at most one armed timer per key. Scheduling a key again
// cancels its pending timer and arms a new one.
type debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	seq     uint64
	timers  map[string]debounceEntry
	stopped bool
}

type debounceEntry struct {
	timer *time.Timer
	seq   uint64
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{
		delay:  delay,
		timers: make(map[string]debounceEntry),
	}
}

// Schedule arms fn to run after the delay unless key is scheduled again
// first. It reports false once the debouncer is stopped.
func (d *debouncer) Schedule(key string, fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}
	if prev, ok := d.timers[key]; ok {
		prev.timer.Stop()
	}

	d.seq++
	seq := d.seq
	d.timers[key] = debounceEntry{
		seq: seq,
		timer: time.AfterFunc(d.delay, func() {
			d.mu.Lock()
			cur, ok := d.timers[key]
			if !ok || cur.seq != seq {
				d.mu.Unlock()
				return
			}
			delete(d.timers, key)
			d.mu.Unlock()
			fn()
		}),
	}
	return true
}

func (d *debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels every pending timer and refuses further scheduling. Callbacks
// that already started keep running.
func (d *debouncer) Stop() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.timers)
	for key, e := range d.timers {
		e.timer.Stop()
		delete(d.timers, key)
	}
	d.stopped = true
	return n
}
