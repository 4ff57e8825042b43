package parallel

import (
	"sync/atomic"
	"testing"
)

func TestForCoversEveryIndexOnce(t *testing.T) {
	for _, workers := range []int{1, 2, 4, 7} {
		p := New(workers)
		for _, n := range []int{0, 1, 5, 64, 1000} {
			counts := make([]int32, n)
			p.For(n, func(start, end int) {
				for i := start; i < end; i++ {
					atomic.AddInt32(&counts[i], 1)
				}
			})
			for i, c := range counts {
				if c != 1 {
					t.Fatalf("workers=%d n=%d: index %d visited %d times", workers, n, i, c)
				}
			}
		}
	}
}

func TestForChunksAreContiguousAndOrdered(t *testing.T) {
	p := New(4)
	out := make([]int, 100)
	p.For(len(out), func(start, end int) {
		for i := start; i < end; i++ {
			out[i] = start // every index records its chunk origin
		}
	})
	// Chunk origins must be non-decreasing: static contiguous partitioning.
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Fatalf("non-contiguous partition at index %d", i)
		}
	}
}

func TestForNested(t *testing.T) {
	p := New(4)
	var total atomic.Int64
	p.For(8, func(start, end int) {
		for i := start; i < end; i++ {
			// Inner region from inside an outer chunk.
			p.For(16, func(s, e int) {
				total.Add(int64(e - s))
			})
		}
	})
	if got := total.Load(); got != 8*16 {
		t.Errorf("nested For: expected %d units of work, got %d", 8*16, got)
	}
}

func TestNewDefaultsWorkers(t *testing.T) {
	if New(0).Workers() < 1 {
		t.Error("worker count must be at least 1")
	}
	if got := New(3).Workers(); got != 3 {
		t.Errorf("expected 3 workers, got %d", got)
	}
}
