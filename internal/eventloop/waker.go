package eventloop

import "sync/atomic"

// Waker runs a callback on the loop when woken from any goroutine. Wakes
// that arrive before the callback has run are coalesced into one call.
type Waker struct {
	loop  *Loop
	fn    func()
	armed atomic.Bool
	runs  atomic.Uint64
}

// NewWaker binds fn to l.
func (l *Loop) NewWaker(fn func()) *Waker {
	return &Waker{loop: l, fn: fn}
}

// Wake schedules the callback. It returns false if the loop is closed.
func (w *Waker) Wake() bool {
	if !w.armed.CompareAndSwap(false, true) {
		return true
	}
	ok := w.loop.Post(func() {
		w.armed.Store(false)
		w.runs.Add(1)
		w.fn()
	})
	if !ok {
		w.armed.Store(false)
	}
	return ok
}

// Runs returns how many times the callback has run.
func (w *Waker) Runs() uint64 {
	return w.runs.Load()
}
