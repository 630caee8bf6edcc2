package runner

import (
	"sync"
	"time"
)

// Timer counts down an attempt's duration one second at a time and calls
// onExpire exactly once when it reaches zero. A timer built without a
// duration is disabled and never fires.
type Timer struct {
	mu        sync.Mutex
	enabled   bool
	remaining time.Duration
	stopped   bool
	fired     bool
	onExpire  func()

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewTimer creates a timer for durationMinutes, truncated to whole seconds.
// nil or negative means untimed.
func NewTimer(durationMinutes *float64, onExpire func()) *Timer {
	t := &Timer{
		onExpire: onExpire,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if durationMinutes != nil && *durationMinutes >= 0 {
		t.enabled = true
		t.remaining = time.Duration(*durationMinutes * float64(time.Minute)).Truncate(time.Second)
	}
	return t
}

// Advance consumes elapsed time before Start, for attempts resumed after a restart.
func (t *Timer) Advance(elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || elapsed <= 0 {
		return
	}
	t.remaining = max(0, t.remaining-elapsed.Truncate(time.Second))
}

// Start begins ticking once per second. Calling it again has no effect.
func (t *Timer) Start() {
	t.startOnce.Do(func() {
		if !t.enabled {
			close(t.done)
			return
		}
		tk := time.NewTicker(time.Second)
		t.run(tk.C, tk.Stop)
	})
}

// start runs the countdown loop on ticks supplied by the caller.
func (t *Timer) start(ticks <-chan time.Time) {
	t.startOnce.Do(func() {
		if !t.enabled {
			close(t.done)
			return
		}
		t.run(ticks, func() {})
	})
}

func (t *Timer) run(ticks <-chan time.Time, release func()) {
	if t.expireIfDue() {
		release()
		close(t.done)
		go t.onExpire()
		return
	}
	go func() {
		defer close(t.done)
		defer release()
		for {
			select {
			case <-t.stop:
				return
			case <-ticks:
				t.mu.Lock()
				if t.stopped {
					t.mu.Unlock()
					return
				}
				t.remaining -= time.Second
				t.mu.Unlock()
				if t.expireIfDue() {
					t.onExpire()
					return
				}
			}
		}
	}()
}

// expireIfDue marks the timer fired when no time is left. It returns true at most once.
func (t *Timer) expireIfDue() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired || t.remaining > 0 {
		return false
	}
	t.remaining = 0
	t.fired = true
	return true
}

// Stop halts the countdown: no expiry is scheduled once it returns. An expiry
// already claimed by a concurrent tick may still run its callback. Safe to call repeatedly.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
		close(t.stop)
	})
}

// Remaining returns the time left. Untimed timers report zero.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Enabled reports whether the timer counts down at all.
func (t *Timer) Enabled() bool { return t.enabled }

// Fired reports whether the expiry callback has been triggered.
func (t *Timer) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Done is closed once the countdown loop has exited.
func (t *Timer) Done() <-chan struct{} { return t.done }
