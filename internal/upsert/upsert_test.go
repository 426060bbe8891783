package upsert

import (
	"errors"
	"fmt"
	"testing"
)

func TestBatcherChunking(t *testing.T) {
	var chunks [][]int
	b := NewBatcher(3, func(rows []int) error {
		copied := make([]int, len(rows))
		copy(copied, rows)
		chunks = append(chunks, copied)
		return nil
	})

	for i := range 7 {
		if err := b.Add(i); err != nil {
			t.Fatalf("Add(%d) returned error: %v", i, err)
		}
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 3 || len(chunks[1]) != 3 || len(chunks[2]) != 1 {
		t.Errorf("chunk sizes = %d/%d/%d, want 3/3/1", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if chunks[2][0] != 6 {
		t.Errorf("final chunk = %v, want [6]", chunks[2])
	}
	if b.Pending() != 0 {
		t.Errorf("pending = %d after flush, want 0", b.Pending())
	}
}

func TestBatcherEmptyFlush(t *testing.T) {
	calls := 0
	b := NewBatcher(5, func(rows []string) error {
		calls++
		return nil
	})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if calls != 0 {
		t.Errorf("flush callback invoked %d times on empty batcher", calls)
	}
}

func TestBatcherFlushError(t *testing.T) {
	boom := errors.New("constraint violation")
	b := NewBatcher(2, func(rows []int) error {
		return boom
	})

	if err := b.Add(1); err != nil {
		t.Fatalf("first Add should buffer without flushing: %v", err)
	}
	err := b.Add(2)
	if err == nil {
		t.Fatal("expected error from auto-flush")
	}
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped %v", err, boom)
	}
}

func TestBatcherMinimumSize(t *testing.T) {
	flushed := 0
	b := NewBatcher(0, func(rows []int) error {
		flushed++
		if len(rows) != 1 {
			return fmt.Errorf("chunk size %d, want 1", len(rows))
		}
		return nil
	})

	for i := range 3 {
		if err := b.Add(i); err != nil {
			t.Fatalf("Add returned error: %v", err)
		}
	}
	if flushed != 3 {
		t.Errorf("flushed %d chunks, want 3", flushed)
	}
}
