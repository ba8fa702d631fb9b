// File: internal/concurrency/ring.go
// Package concurrency implements lock-free ring buffers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Ring is a bounded circular buffer with separate producer and consumer
// head/tail pairs. A producer reserves n slots by moving prod.head, writes
// them, then publishes by moving prod.tail once every earlier reservation has
// been published. Consumers mirror this on cons. Bulk calls move all n items
// or none. Single-producer/single-consumer modes skip the CAS.

package concurrency

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/momentics/hioload-dp/api"
)

// Ensure compile-time interface compliance.
var _ api.BulkRing[any] = (*Ring[any])(nil)

// RingFlags selects single-producer and single-consumer modes.
type RingFlags uint8

const (
	RingSP RingFlags = 1 << iota // single producer
	RingSC                       // single consumer
)

type headTail struct {
	head atomic.Uint32
	tail atomic.Uint32
}

// Ring is a bounded lock-free MPMC ring, optionally SP and/or SC.
type Ring[T any] struct {
	name  string
	flags RingFlags
	size  uint32 // power of two
	mask  uint32
	capa  uint32 // usable entries, at most size-1
	_     cpu.CacheLinePad
	prod  headTail
	_     cpu.CacheLinePad
	cons  headTail
	_     cpu.CacheLinePad
	slots []T
}

// AlignPow2 rounds n up to the next power of two.
func AlignPow2(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// NewRing allocates a ring holding exactly count entries. The slot array is
// the next power of two above count, so at least one slot always stays empty.
func NewRing[T any](name string, count uint32, flags RingFlags) *Ring[T] {
	size := AlignPow2(count + 1)
	if size < 2 {
		size = 2
	}
	return &Ring[T]{
		name:  name,
		flags: flags,
		size:  size,
		mask:  size - 1,
		capa:  count,
		slots: make([]T, size),
	}
}

// Name returns the ring name.
func (r *Ring[T]) Name() string { return r.name }

// Flags returns the producer/consumer mode.
func (r *Ring[T]) Flags() RingFlags { return r.flags }

// EnqueueBulk adds all items or none.
func (r *Ring[T]) EnqueueBulk(items []T) error {
	if r.enqueue(items, true, r.flags&RingSP != 0) == 0 && len(items) > 0 {
		return api.ErrFull
	}
	return nil
}

// EnqueueBurst adds as many items as fit.
func (r *Ring[T]) EnqueueBurst(items []T) int {
	return int(r.enqueue(items, false, r.flags&RingSP != 0))
}

// EnqueueBulkMP forces the multi-producer path regardless of flags.
func (r *Ring[T]) EnqueueBulkMP(items []T) error {
	if r.enqueue(items, true, false) == 0 && len(items) > 0 {
		return api.ErrFull
	}
	return nil
}

// EnqueueBulkSP forces the single-producer path.
func (r *Ring[T]) EnqueueBulkSP(items []T) error {
	if r.enqueue(items, true, true) == 0 && len(items) > 0 {
		return api.ErrFull
	}
	return nil
}

// DequeueBulk fills out completely or not at all.
func (r *Ring[T]) DequeueBulk(out []T) error {
	if r.dequeue(out, true, r.flags&RingSC != 0) == 0 && len(out) > 0 {
		return api.ErrInsufficient
	}
	return nil
}

// DequeueBurst removes up to len(out) items.
func (r *Ring[T]) DequeueBurst(out []T) int {
	return int(r.dequeue(out, false, r.flags&RingSC != 0))
}

// DequeueBulkMC forces the multi-consumer path.
func (r *Ring[T]) DequeueBulkMC(out []T) error {
	if r.dequeue(out, true, false) == 0 && len(out) > 0 {
		return api.ErrInsufficient
	}
	return nil
}

// DequeueBulkSC forces the single-consumer path.
func (r *Ring[T]) DequeueBulkSC(out []T) error {
	if r.dequeue(out, true, true) == 0 && len(out) > 0 {
		return api.ErrInsufficient
	}
	return nil
}

func (r *Ring[T]) enqueue(items []T, fixed, single bool) uint32 {
	n := uint32(len(items))
	if n == 0 {
		return 0
	}
	var head, next uint32
	for {
		head = r.prod.head.Load()
		free := r.capa + r.cons.tail.Load() - head
		if n > free {
			if fixed || free == 0 {
				return 0
			}
			n = free
		}
		next = head + n
		if single {
			r.prod.head.Store(next)
			break
		}
		if r.prod.head.CompareAndSwap(head, next) {
			break
		}
	}
	for i := uint32(0); i < n; i++ {
		r.slots[(head+i)&r.mask] = items[i]
	}
	// Earlier reservations publish first.
	for spins := 0; r.prod.tail.Load() != head; spins++ {
		Relax(spins)
	}
	r.prod.tail.Store(next)
	return n
}

func (r *Ring[T]) dequeue(out []T, fixed, single bool) uint32 {
	n := uint32(len(out))
	if n == 0 {
		return 0
	}
	var head, next uint32
	for {
		head = r.cons.head.Load()
		avail := r.prod.tail.Load() - head
		if n > avail {
			if fixed || avail == 0 {
				return 0
			}
			n = avail
		}
		next = head + n
		if single {
			r.cons.head.Store(next)
			break
		}
		if r.cons.head.CompareAndSwap(head, next) {
			break
		}
	}
	var zero T
	for i := uint32(0); i < n; i++ {
		idx := (head + i) & r.mask
		out[i] = r.slots[idx]
		r.slots[idx] = zero
	}
	for spins := 0; r.cons.tail.Load() != head; spins++ {
		Relax(spins)
	}
	r.cons.tail.Store(next)
	return n
}

// Len returns number of items currently in the ring.
func (r *Ring[T]) Len() int {
	return int((r.prod.tail.Load() - r.cons.tail.Load()) & r.mask)
}

// Free returns the number of free slots.
func (r *Ring[T]) Free() int {
	return r.Cap() - r.Len()
}

// Cap returns usable capacity.
func (r *Ring[T]) Cap() int {
	return int(r.capa)
}

// Relax yields every few spins so a preempted peer can finish its publish.
func Relax(spins int) {
	if spins&63 == 63 {
		runtime.Gosched()
	}
}
