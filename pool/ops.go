// File: pool/ops.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Backend dispatch table. A pool stores three small indices into these
// arrays. The arrays are identical in every process built from this package
// and their order must never change: new backends are appended.

package pool

import (
	"fmt"

	"github.com/momentics/hioload-dp/internal/concurrency"
)

// Handles are the backend operation indices stored in a pool.
type Handles struct {
	Put   uint8
	Get   uint8
	Count uint8
}

const (
	putRingMP uint8 = iota
	putRingSP
	putStack
	maxPutOps
)

const (
	getRingMC uint8 = iota
	getRingSC
	getStack
	maxGetOps
)

const (
	countRing uint8 = iota
	countStack
	maxCountOps
)

// backend is the per-pool runtime state an operation acts on.
type backend struct {
	ring  *concurrency.Ring[uint32]
	stack *stackBackend
}

type (
	putFunc   func(b *backend, objs []uint32) error
	getFunc   func(b *backend, objs []uint32) error
	countFunc func(b *backend) int
)

var putOps = [maxPutOps]putFunc{
	putRingMP: func(b *backend, objs []uint32) error { return b.ring.EnqueueBulkMP(objs) },
	putRingSP: func(b *backend, objs []uint32) error { return b.ring.EnqueueBulkSP(objs) },
	putStack:  func(b *backend, objs []uint32) error { return b.stack.put(objs) },
}

var getOps = [maxGetOps]getFunc{
	getRingMC: func(b *backend, objs []uint32) error { return b.ring.DequeueBulkMC(objs) },
	getRingSC: func(b *backend, objs []uint32) error { return b.ring.DequeueBulkSC(objs) },
	getStack:  func(b *backend, objs []uint32) error { return b.stack.get(objs) },
}

var countOps = [maxCountOps]countFunc{
	countRing:  func(b *backend) int { return b.ring.Len() },
	countStack: func(b *backend) int { return b.stack.count() },
}

// resolveHandles picks the operation indices for a backend and mode.
func resolveHandles(kind BackendKind, sp, sc bool) (Handles, error) {
	switch kind {
	case BackendRing:
		h := Handles{Put: putRingMP, Get: getRingMC, Count: countRing}
		if sp {
			h.Put = putRingSP
		}
		if sc {
			h.Get = getRingSC
		}
		return h, nil
	case BackendStack:
		return Handles{Put: putStack, Get: getStack, Count: countStack}, nil
	}
	return Handles{}, fmt.Errorf("pool: unknown backend %d", kind)
}

func (h Handles) valid() bool {
	return h.Put < maxPutOps && h.Get < maxGetOps && h.Count < maxCountOps
}
