package jsruntime

import "sync/atomic"

// Allocator provides host-side memory for boundary objects such as UTF-8
// copies of engine strings and array buffer backing stores.
// Engine heap objects never go through it.
type Allocator interface {
	Alloc(n int) []byte
	Realloc(b []byte, n int) []byte
	Free(b []byte)
	Calloc(count, size int) []byte
	Strdup(s string) []byte
}

// HeapAllocator allocates from the Go heap. It is the platform default.
type HeapAllocator struct{}

func (HeapAllocator) Alloc(n int) []byte {
	if n <= 0 {
		return nil
	}
	return make([]byte, n)
}

func (HeapAllocator) Realloc(b []byte, n int) []byte {
	if n <= 0 {
		return nil
	}
	if n <= cap(b) {
		return b[:n]
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (HeapAllocator) Free([]byte) {}

func (HeapAllocator) Calloc(count, size int) []byte {
	if count <= 0 || size <= 0 {
		return nil
	}
	return make([]byte, count*size)
}

func (HeapAllocator) Strdup(s string) []byte {
	return []byte(s)
}

// CountingAllocator wraps another allocator and tracks live allocations.
// Buffers are tracked by the address of their first byte, so callers must
// free the slice they were given, not a subslice.
type CountingAllocator struct {
	next      Allocator
	live      atomic.Int64
	liveBytes atomic.Int64
	allocs    atomic.Int64
	frees     atomic.Int64
}

// NewCountingAllocator wraps next. A nil next uses HeapAllocator.
func NewCountingAllocator(next Allocator) *CountingAllocator {
	if next == nil {
		next = HeapAllocator{}
	}
	return &CountingAllocator{next: next}
}

func (c *CountingAllocator) Alloc(n int) []byte {
	return c.track(c.next.Alloc(n))
}

func (c *CountingAllocator) Realloc(b []byte, n int) []byte {
	if len(b) == 0 {
		return c.Alloc(n)
	}
	c.untrack(b)
	return c.track(c.next.Realloc(b, n))
}

func (c *CountingAllocator) Free(b []byte) {
	if len(b) == 0 {
		return
	}
	c.untrack(b)
	c.frees.Add(1)
	c.next.Free(b)
}

func (c *CountingAllocator) Calloc(count, size int) []byte {
	return c.track(c.next.Calloc(count, size))
}

func (c *CountingAllocator) Strdup(s string) []byte {
	return c.track(c.next.Strdup(s))
}

// Live returns the number of allocations not yet freed.
func (c *CountingAllocator) Live() int64 { return c.live.Load() }

// LiveBytes returns the number of bytes not yet freed.
func (c *CountingAllocator) LiveBytes() int64 { return c.liveBytes.Load() }

// Allocs returns the total number of allocations made.
func (c *CountingAllocator) Allocs() int64 { return c.allocs.Load() }

// Frees returns the total number of frees.
func (c *CountingAllocator) Frees() int64 { return c.frees.Load() }

func (c *CountingAllocator) track(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	c.live.Add(1)
	c.liveBytes.Add(int64(len(b)))
	c.allocs.Add(1)
	return b
}

func (c *CountingAllocator) untrack(b []byte) {
	c.live.Add(-1)
	c.liveBytes.Add(-int64(len(b)))
}
