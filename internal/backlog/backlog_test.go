package backlog

import (
	"sync"
	"testing"
)

func TestDrainEmpty(t *testing.T) {
	b := New[string]()

	if got := b.Drain(); len(got) != 0 {
		t.Fatalf("drain of empty buffer returned %d records", len(got))
	}
	if b.Len() != 0 {
		t.Errorf("buffer not empty after drain, len = %d", b.Len())
	}
}

func TestAppendDrainOrder(t *testing.T) {
	b := New[int]()
	for i := 0; i < 10; i++ {
		b.Append(i)
	}

	out := b.Drain()
	if len(out) != 10 {
		t.Fatalf("expected 10 records, got %d", len(out))
	}
	for i, v := range out {
		if v != i {
			t.Errorf("out[%d] = %d, want %d", i, v, i)
		}
	}

	if got := b.Drain(); len(got) != 0 {
		t.Errorf("second drain returned %d records, want 0", len(got))
	}
}

func TestDrainLeavesBufferUsable(t *testing.T) {
	b := New[string]()
	b.Append("a")
	b.Drain()
	b.Append("b")

	out := b.Drain()
	if len(out) != 1 || out[0] != "b" {
		t.Fatalf("expected [b], got %v", out)
	}
}

type record struct {
	writer int
	seq    int
}

// TestConcurrentAppendDrain checks that with concurrent appenders and a
// concurrent drainer, every record appears in exactly one drain result and
// per-writer order is preserved.
func TestConcurrentAppendDrain(t *testing.T) {
	const writers = 8
	const perWriter = 500

	b := New[record]()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				b.Append(record{writer: w, seq: i})
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var drains [][]record
	for {
		drains = append(drains, b.Drain())
		select {
		case <-done:
			// One final drain to collect anything appended after the
			// last in-loop drain.
			drains = append(drains, b.Drain())
		default:
			continue
		}
		break
	}

	total := 0
	nextSeq := make([]int, writers)
	for _, d := range drains {
		for _, rec := range d {
			total++
			if rec.seq != nextSeq[rec.writer] {
				t.Fatalf("writer %d: got seq %d, want %d (order broken or record duplicated/lost)",
					rec.writer, rec.seq, nextSeq[rec.writer])
			}
			nextSeq[rec.writer]++
		}
	}

	if total != writers*perWriter {
		t.Errorf("drained %d records, want %d", total, writers*perWriter)
	}
	if b.Len() != 0 {
		t.Errorf("buffer not empty after final drain, len = %d", b.Len())
	}
}
