package common

import (
	"sync"
	"time"
)

// Debouncer 合并窗口内的多次触发：
// - Trigger 在窗口内只安排一次执行，窗口结束时调用 fn；
// - 窗口期间的后续 Trigger 被合并，不会延长窗口；
// - Stop 取消尚未执行的调用，之后的 Trigger 被忽略。
type Debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func()
	timer    *time.Timer
	pending  bool
	stopped  bool
	last     time.Time
}

func NewDebouncer(interval time.Duration, fn func()) *Debouncer {
	return &Debouncer{interval: interval, fn: fn}
}

// Last returns the time fn last ran.
func (d *Debouncer) Last() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Pending 是否有尚未执行的调用
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Trigger 请求执行一次 fn
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || d.pending {
		return
	}
	if d.interval <= 0 {
		d.pending = true
		go d.fire()
		return
	}
	d.pending = true
	d.timer = time.AfterFunc(d.interval, d.fire)
}

// Stop 取消尚未执行的调用
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if !d.pending || d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.last = time.Now()
	fn := d.fn
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}
