// Package backlog provides the per-category queues that accumulate records
// between a push session's flush cycles.
package backlog

import "sync"

// Buffer is a mutex-guarded append-only queue. Producers append from their
// own goroutines; the session's flush path drains everything accumulated
// since the previous flush in one step. Appends never block on I/O and the
// buffer is intentionally unbounded: data arrives in small bursts between
// flush cycles, and the flush cadence is controlled by the session, not
// the buffer.
type Buffer[T any] struct {
	mu    sync.Mutex
	items []T
}

func New[T any]() *Buffer[T] {
	return &Buffer[T]{}
}

// Append adds rec to the tail of the buffer.
func (b *Buffer[T]) Append(rec T) {
	b.mu.Lock()
	b.items = append(b.items, rec)
	b.mu.Unlock()
}

// Drain returns the full contents in insertion order and resets the buffer
// to empty. The internal slice is handed over by ownership transfer, so the
// critical section is an O(1) swap. A record appended concurrently with a
// drain lands in exactly one drain result; the result may be nil when the
// buffer was empty.
func (b *Buffer[T]) Drain() []T {
	b.mu.Lock()
	out := b.items
	b.items = nil
	b.mu.Unlock()
	return out
}

// Len reports the number of records currently buffered.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
