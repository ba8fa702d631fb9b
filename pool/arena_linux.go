//go:build linux
// +build linux

// File: pool/arena_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux arena allocator: shared anonymous mappings, hugepages when the
// kernel has them, NUMA placement through mbind.

package pool

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-dp/api"
)

const (
	hugePageSize  = 2 << 20
	mpolPreferred = 1
)

// MmapAllocator maps pool arenas with mmap(MAP_SHARED|MAP_ANONYMOUS).
type MmapAllocator struct {
	// HugePages tries MAP_HUGETLB first and falls back to normal pages.
	HugePages bool
}

// DefaultAllocator returns the platform allocator.
func DefaultAllocator() Allocator {
	return &MmapAllocator{HugePages: true}
}

// NewAllocator returns an mmap allocator, trying hugepages when asked.
func NewAllocator(hugePages bool) Allocator {
	return &MmapAllocator{HugePages: hugePages}
}

func (a *MmapAllocator) Alloc(size int, node int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: arena size %d", api.ErrInvalidArgument, size)
	}
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_SHARED | unix.MAP_ANONYMOUS | unix.MAP_POPULATE
	var (
		buf []byte
		err error
	)
	if a.HugePages {
		hsize := (size + hugePageSize - 1) &^ (hugePageSize - 1)
		buf, err = unix.Mmap(-1, 0, hsize, prot, flags|unix.MAP_HUGETLB)
	}
	if !a.HugePages || err != nil {
		buf, err = unix.Mmap(-1, 0, size, prot, flags)
	}
	if err != nil {
		if errors.Is(err, unix.ENOMEM) {
			return nil, fmt.Errorf("mmap %d bytes: %w", size, api.ErrOutOfMemory)
		}
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	bindNode(buf, node)
	return buf[:size], nil
}

func (a *MmapAllocator) Free(buf []byte) error {
	if cap(buf) == 0 {
		return nil
	}
	return unix.Munmap(buf[:cap(buf)])
}

// bindNode asks the kernel to prefer node for the pages of buf. Failure is
// not fatal: the arena stays usable, only remote.
func bindNode(buf []byte, node int) {
	if node < 0 || node >= 64 || len(buf) == 0 {
		return
	}
	mask := uint64(1) << uint(node)
	_, _, _ = unix.Syscall6(unix.SYS_MBIND,
		uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)),
		mpolPreferred, uintptr(unsafe.Pointer(&mask)), 64, 0)
}
