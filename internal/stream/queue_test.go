package stream

import (
	"errors"
	"testing"
)

func TestWriteQueueFIFO(t *testing.T) {
	q := NewWriteQueue(4)
	for i := 0; i < 4; i++ {
		if err := q.Push(PendingWrite{Tag: i}); err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}
	if err := q.Push(PendingWrite{Tag: 4}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Push() on full queue error = %v, want ErrQueueFull", err)
	}
	if q.Len() != 4 {
		t.Errorf("Len() = %d, want 4", q.Len())
	}

	if w, ok := q.Peek(); !ok || w.Tag != 0 {
		t.Errorf("Peek() = %v, %v, want 0, true", w.Tag, ok)
	}
	for i := 0; i < 4; i++ {
		w, ok := q.Pop()
		if !ok || w.Tag != i {
			t.Fatalf("Pop() = %v, %v, want %d, true", w.Tag, ok, i)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop() on empty queue returned an entry")
	}
}

func TestWriteQueueDropAndClear(t *testing.T) {
	q := NewWriteQueue(0)
	if q.Cap() != DefaultMaxQueueSize {
		t.Errorf("Cap() = %d, want %d", q.Cap(), DefaultMaxQueueSize)
	}
	for i := 0; i < 5; i++ {
		_ = q.Push(PendingWrite{Tag: i})
	}
	if n := q.DropFront(2); n != 2 {
		t.Errorf("DropFront(2) = %d, want 2", n)
	}
	if w, _ := q.Peek(); w.Tag != 2 {
		t.Errorf("head after DropFront = %v, want 2", w.Tag)
	}
	if n := q.Clear(); n != 3 {
		t.Errorf("Clear() = %d, want 3", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", q.Len())
	}
}
