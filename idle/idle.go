// Package idle provides a re-armable inactivity timer. It bounds how long
// secret material stays exposed: the vault session locks itself with one,
// and the clipboard clears itself with another.
package idle

import (
	"sync"
	"time"
)

// Timer calls its callback once a full timeout passes without Reset.
// Uses a single underlying time.Timer so repeated resets never leak
// goroutines.
type Timer struct {
	mu      sync.Mutex
	timeout time.Duration
	fn      func()
	timer   *time.Timer
	gen     uint64
}

// New returns a stopped Timer that will run fn after timeout of inactivity.
func New(timeout time.Duration, fn func()) *Timer {
	return &Timer{timeout: timeout, fn: fn}
}

// Timeout returns the configured inactivity window.
func (t *Timer) Timeout() time.Duration {
	return t.timeout
}

// Reset (re)starts the countdown from now.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.timeout, func() { t.fire(gen) })
}

// Stop cancels a pending callback. It does not wait for a callback that is
// already running.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

// Active reports whether a countdown is pending.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		// Superseded by a Reset or Stop after this callback was scheduled.
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()

	t.fn()
}
