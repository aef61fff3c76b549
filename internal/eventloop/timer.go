package eventloop

import (
	"sync"
	"time"
)

// Timer is a restartable one-shot timer whose callback runs on the loop.
// A fire that was already in flight when Stop or Start was called is
// discarded.
type Timer struct {
	loop *Loop

	mu     sync.Mutex
	t      *time.Timer
	gen    uint64
	active bool
}

// NewTimer creates a stopped timer bound to l.
func (l *Loop) NewTimer() *Timer {
	return &Timer{loop: l}
}

// Start arms the timer, replacing any previous deadline.
func (t *Timer) Start(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.t != nil {
		t.t.Stop()
	}
	t.gen++
	gen := t.gen
	t.active = true

	t.t = time.AfterFunc(d, func() {
		t.loop.Post(func() {
			t.mu.Lock()
			if gen != t.gen || !t.active {
				t.mu.Unlock()
				return
			}
			t.active = false
			t.mu.Unlock()
			fn()
		})
	})
}

// Stop disarms the timer. It is safe to call on a stopped timer.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	t.active = false
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

// Active reports whether the timer is armed.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
