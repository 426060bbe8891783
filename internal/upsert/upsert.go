// Package upsert accumulates transformed rows and flushes them in fixed-size
// chunks. The flush callback is expected to execute a single idempotent
// insert-or-update statement for the whole chunk inside the caller's
// transaction, which is what makes a chunk atomic.
package upsert

import "fmt"

// Batcher buffers rows of type T and invokes flush whenever a full chunk is
// ready. It performs no reads and holds no database state of its own.
type Batcher[T any] struct {
	size  int
	rows  []T
	flush func([]T) error
}

// NewBatcher creates a Batcher flushing chunks of the given size. A
// non-positive size falls back to 1.
func NewBatcher[T any](size int, flush func([]T) error) *Batcher[T] {
	if size < 1 {
		size = 1
	}
	return &Batcher[T]{
		size:  size,
		rows:  make([]T, 0, size),
		flush: flush,
	}
}

// Add buffers one row, flushing if the buffer reaches the chunk size.
func (b *Batcher[T]) Add(row T) error {
	b.rows = append(b.rows, row)
	if len(b.rows) >= b.size {
		return b.Flush()
	}
	return nil
}

// Flush writes any buffered rows as a final (possibly partial) chunk.
// It is a no-op when the buffer is empty.
func (b *Batcher[T]) Flush() error {
	if len(b.rows) == 0 {
		return nil
	}
	chunk := b.rows
	b.rows = make([]T, 0, b.size)
	if err := b.flush(chunk); err != nil {
		return fmt.Errorf("failed to flush batch of %d rows: %w", len(chunk), err)
	}
	return nil
}

// Pending returns the number of buffered, unflushed rows.
func (b *Batcher[T]) Pending() int {
	return len(b.rows)
}
