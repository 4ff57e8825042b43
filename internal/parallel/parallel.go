// Package parallel provides the worker mapping used by the compute kernels:
// a fixed degree of parallelism and a work-sharing For that statically
// partitions an index range into contiguous chunks.
package parallel

import (
	"runtime"
	"sync"
)

// Pool carries the worker count for parallel regions. It holds no goroutines
// of its own: each For spawns one goroutine per chunk and joins them, so a
// nested For inside an already-parallel region needs no extra coordination
// and cannot deadlock.
type Pool struct {
	workers int
}

// New returns a Pool with the given degree of parallelism.
// workers <= 0 selects runtime.NumCPU().
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: workers}
}

// Workers returns the configured degree of parallelism.
func (p *Pool) Workers() int {
	return p.workers
}

// For partitions [0, n) into at most Workers() contiguous chunks and runs
// fn(start, end) for each, returning after all chunks complete. Partitioning
// is static: per-index work in the kernels is uniform, so equal chunks
// balance without scheduling overhead. Every index is covered exactly once,
// so disjoint output slices need no locking, and each output element is
// produced by a single worker in a fixed order regardless of worker count.
func (p *Pool) For(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if p.workers == 1 || n < 2 {
		fn(0, n)
		return
	}

	chunk := (n + p.workers - 1) / p.workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}
