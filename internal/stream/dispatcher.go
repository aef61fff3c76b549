package stream

import (
	"sync"
	"sync/atomic"
)

// Dispatcher accepts writes from any goroutine and hands them to the loop
// in batches. Only the first post after a drain wakes the loop.
type Dispatcher struct {
	mu      sync.Mutex
	pending []PendingWrite
	armed   bool
	closed  bool

	// dropping is set once the connection is closing. Posts are then
	// discarded without an error; the submitter learns from OnClose.
	dropping bool

	waker Waker
	drain func([]PendingWrite)

	wakes   atomic.Uint64
	dropped atomic.Uint64
}

func newDispatcher(env Env, drain func([]PendingWrite)) *Dispatcher {
	d := &Dispatcher{drain: drain}
	d.waker = env.NewWaker(d.onWake)
	return d
}

// PostWrite submits data for writing. The dispatcher takes ownership of
// data. Posts from one goroutine are written in submission order.
func (d *Dispatcher) PostWrite(data []byte, tag any) error {
	d.mu.Lock()
	if d.dropping {
		d.mu.Unlock()
		d.dropped.Add(1)
		return nil
	}
	if d.closed {
		d.mu.Unlock()
		return ErrInvalidState
	}
	d.pending = append(d.pending, PendingWrite{Data: data, Tag: tag})
	wake := !d.armed
	d.armed = true
	d.mu.Unlock()

	if !wake {
		return nil
	}
	d.wakes.Add(1)
	if !d.waker.Wake() {
		d.close()
		return ErrInvalidState
	}
	return nil
}

// Dropped returns how many posts were discarded because the connection
// was closing.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Wakes returns how many times PostWrite has woken the loop.
func (d *Dispatcher) Wakes() uint64 {
	return d.wakes.Load()
}

func (d *Dispatcher) onWake() {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	d.armed = false
	d.mu.Unlock()

	if len(batch) > 0 && d.drain != nil {
		d.drain(batch)
	}
}

// close rejects further posts; used when the loop is gone.
func (d *Dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.pending = nil
	d.mu.Unlock()
}

// drop discards pending and future posts.
func (d *Dispatcher) drop() {
	d.mu.Lock()
	d.dropping = true
	d.dropped.Add(uint64(len(d.pending)))
	d.pending = nil
	d.mu.Unlock()
}
