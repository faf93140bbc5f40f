package panel

import (
	"sync"
	"time"
)

// Debouncer owns a single cancellable timer. Each Trigger cancels the pending
// call and bumps the generation, so only the most recent trigger may fire.
// A callback that was already running when it got superseded can be detected
// by comparing its generation with Generation.
type Debouncer struct {
	delay time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	gen    uint64
	closed bool
}

func NewDebouncer(delay time.Duration) *Debouncer {
	if delay < 0 {
		delay = 0
	}
	return &Debouncer{delay: delay}
}

func (d *Debouncer) Delay() time.Duration {
	return d.delay
}

// Trigger schedules fn after the quiet period and returns its generation.
// After Stop it is a no-op and returns the last generation.
func (d *Debouncer) Trigger(fn func(gen uint64)) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return d.gen
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { fn(gen) })
	return gen
}

// Generation reports the generation of the latest Trigger.
func (d *Debouncer) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen
}

// Stop cancels any pending call and releases the timer. Further triggers are
// ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.closed = true
	d.gen++
}
