package stream

import (
	"github.com/eapache/queue"
)

// DefaultMaxQueueSize bounds a WriteQueue when no size is configured.
const DefaultMaxQueueSize = 1024

// PendingWrite is one buffer waiting for the transport. Tag is handed back
// to the owner when the write completes.
type PendingWrite struct {
	Data []byte
	Tag  any
}

// WriteQueue is a bounded FIFO of pending writes. The ring buffer behind it
// is reused as items are popped.
type WriteQueue struct {
	q   *queue.Queue
	max int
}

// NewWriteQueue creates a queue holding at most size entries. A
// non-positive size selects DefaultMaxQueueSize.
func NewWriteQueue(size int) *WriteQueue {
	if size <= 0 {
		size = DefaultMaxQueueSize
	}
	return &WriteQueue{q: queue.New(), max: size}
}

// Push appends w. It returns ErrQueueFull when the queue is at capacity.
func (wq *WriteQueue) Push(w PendingWrite) error {
	if wq.q.Length() >= wq.max {
		return ErrQueueFull
	}
	wq.q.Add(w)
	return nil
}

// Pop removes the oldest entry.
func (wq *WriteQueue) Pop() (PendingWrite, bool) {
	if wq.q.Length() == 0 {
		return PendingWrite{}, false
	}
	return wq.q.Remove().(PendingWrite), true
}

// Peek returns the oldest entry without removing it.
func (wq *WriteQueue) Peek() (PendingWrite, bool) {
	if wq.q.Length() == 0 {
		return PendingWrite{}, false
	}
	return wq.q.Peek().(PendingWrite), true
}

// DropFront discards up to n of the oldest entries and returns how many
// were removed.
func (wq *WriteQueue) DropFront(n int) int {
	dropped := 0
	for dropped < n && wq.q.Length() > 0 {
		wq.q.Remove()
		dropped++
	}
	return dropped
}

// Clear discards everything and returns the number of entries dropped.
func (wq *WriteQueue) Clear() int {
	n := wq.q.Length()
	if n > 0 {
		wq.q = queue.New()
	}
	return n
}

func (wq *WriteQueue) Len() int { return wq.q.Length() }
func (wq *WriteQueue) Cap() int { return wq.max }
