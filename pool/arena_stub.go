//go:build !linux
// +build !linux

// File: pool/arena_stub.go
// Author: momentics <momentics@gmail.com>
//
// Arena allocation on platforms without mmap placement: the Go heap.

package pool

// DefaultAllocator returns the platform allocator.
func DefaultAllocator() Allocator {
	return HeapAllocator{}
}

// NewAllocator returns the heap allocator; hugepages are not available.
func NewAllocator(bool) Allocator {
	return HeapAllocator{}
}
