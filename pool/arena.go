// File: pool/arena.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral arena allocation for pool memory. The concrete allocator
// is selected per platform in arena_linux.go and arena_stub.go.

package pool

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-dp/api"
)

// Allocator provides the backing memory of a pool.
type Allocator interface {
	// Alloc returns size bytes, preferably on the given NUMA node. Memory
	// exhaustion is reported as an error wrapping api.ErrOutOfMemory.
	Alloc(size int, node int) ([]byte, error)
	Free(buf []byte) error
}

// HeapAllocator allocates arenas on the Go heap.
type HeapAllocator struct{}

func (HeapAllocator) Alloc(size int, _ int) ([]byte, error) {
	return make([]byte, size), nil
}

func (HeapAllocator) Free([]byte) error { return nil }

// BudgetAllocator wraps another allocator and refuses, with ErrOutOfMemory,
// any allocation that would take the outstanding total above Budget bytes.
type BudgetAllocator struct {
	Allocator
	Budget int64
	used   atomic.Int64
}

func (b *BudgetAllocator) Alloc(size int, node int) ([]byte, error) {
	if b.used.Add(int64(size)) > b.Budget {
		b.used.Add(-int64(size))
		return nil, fmt.Errorf("arena of %d bytes over budget %d: %w", size, b.Budget, api.ErrOutOfMemory)
	}
	buf, err := b.Allocator.Alloc(size, node)
	if err != nil {
		b.used.Add(-int64(size))
	}
	return buf, err
}

func (b *BudgetAllocator) Free(buf []byte) error {
	b.used.Add(-int64(len(buf)))
	return b.Allocator.Free(buf)
}

// Used returns the outstanding bytes.
func (b *BudgetAllocator) Used() int64 { return b.used.Load() }
