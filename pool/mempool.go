// File: pool/mempool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/internal/concurrency"
)

// BackendKind selects the container recycling element indices.
type BackendKind uint8

const (
	BackendRing BackendKind = iota
	BackendStack
)

func (k BackendKind) String() string {
	switch k {
	case BackendRing:
		return "ring"
	case BackendStack:
		return "stack"
	}
	return fmt.Sprintf("backend(%d)", uint8(k))
}

// ParseBackend maps "ring" or "stack" to a BackendKind. Empty means ring.
func ParseBackend(s string) (BackendKind, error) {
	switch s {
	case "", "ring":
		return BackendRing, nil
	case "stack":
		return BackendStack, nil
	}
	return 0, fmt.Errorf("%w: pool backend %q", api.ErrInvalidArgument, s)
}

// Config describes a pool to create.
type Config struct {
	Name           string
	Count          uint32 // number of elements
	EltSize        int    // bytes per element, headroom included
	Node           int    // NUMA node for the arena
	Backend        BackendKind
	SingleProducer bool
	SingleConsumer bool
	Allocator      Allocator // nil selects DefaultAllocator
}

// Mempool is a fixed-capacity pool of packet buffers. It never grows;
// exhaustion is reported to the caller.
type Mempool struct {
	name    string
	node    int
	eltSize int
	count   uint32
	kind    BackendKind
	handles Handles
	be      backend

	alloc Allocator
	arena []byte
	mbufs []Mbuf

	getFail atomic.Uint64
}

var idxScratch = sync.Pool{
	New: func() any {
		s := make([]uint32, 0, 512)
		return &s
	},
}

// New creates a pool and fills it with every element. It returns an error
// wrapping api.ErrOutOfMemory when the arena cannot be allocated.
func New(cfg Config) (*Mempool, error) {
	if cfg.Count == 0 {
		return nil, fmt.Errorf("%w: pool %q: zero elements", api.ErrInvalidArgument, cfg.Name)
	}
	if cfg.EltSize <= Headroom {
		return nil, fmt.Errorf("%w: pool %q: element size %d not above headroom", api.ErrInvalidArgument, cfg.Name, cfg.EltSize)
	}
	h, err := resolveHandles(cfg.Backend, cfg.SingleProducer, cfg.SingleConsumer)
	if err != nil {
		return nil, err
	}
	alloc := cfg.Allocator
	if alloc == nil {
		alloc = DefaultAllocator()
	}
	arena, err := alloc.Alloc(int(cfg.Count)*cfg.EltSize, cfg.Node)
	if err != nil {
		return nil, fmt.Errorf("pool %q: %w", cfg.Name, err)
	}

	mp := &Mempool{
		name:    cfg.Name,
		node:    cfg.Node,
		eltSize: cfg.EltSize,
		count:   cfg.Count,
		kind:    cfg.Backend,
		handles: h,
		alloc:   alloc,
		arena:   arena,
		mbufs:   make([]Mbuf, cfg.Count),
	}
	switch cfg.Backend {
	case BackendRing:
		var flags concurrency.RingFlags
		if cfg.SingleProducer {
			flags |= concurrency.RingSP
		}
		if cfg.SingleConsumer {
			flags |= concurrency.RingSC
		}
		mp.be.ring = concurrency.NewRing[uint32](cfg.Name, cfg.Count, flags)
	case BackendStack:
		mp.be.stack = newStackBackend(int(cfg.Count))
	}

	all := make([]uint32, cfg.Count)
	for i := range mp.mbufs {
		start := i * cfg.EltSize
		m := &mp.mbufs[i]
		m.pool = mp
		m.idx = uint32(i)
		m.buf = arena[start : start+cfg.EltSize : start+cfg.EltSize]
		m.reset()
		all[i] = uint32(i)
	}
	if err := putOps[h.Put](&mp.be, all); err != nil {
		_ = alloc.Free(arena)
		return nil, fmt.Errorf("pool %q: populate: %w", cfg.Name, err)
	}
	return mp, nil
}

// Name returns the pool name.
func (mp *Mempool) Name() string {
	if mp == nil {
		return "<none>"
	}
	return mp.name
}

func owner(m *Mbuf) string {
	if m == nil {
		return "<nil>"
	}
	return m.pool.Name()
}

// Node returns the NUMA node of the arena.
func (mp *Mempool) Node() int { return mp.node }

// EltSize returns the element size in bytes.
func (mp *Mempool) EltSize() int { return mp.eltSize }

// DataRoom returns the bytes available for packet data in one element.
func (mp *Mempool) DataRoom() int { return mp.eltSize - Headroom }

// Capacity returns the number of elements.
func (mp *Mempool) Capacity() int { return int(mp.count) }

// Backend returns the backend kind.
func (mp *Mempool) Backend() BackendKind { return mp.kind }

// Handles returns the operation indices resolved at creation time.
func (mp *Mempool) Handles() Handles { return mp.handles }

// Count returns the number of free elements.
func (mp *Mempool) Count() int {
	return countOps[mp.handles.Count](&mp.be)
}

// GetFailures returns how many GetBulk calls found the pool short.
func (mp *Mempool) GetFailures() uint64 { return mp.getFail.Load() }

// PutBulk returns all of pkts to the pool or none of them (api.ErrFull).
func (mp *Mempool) PutBulk(pkts []*Mbuf) error {
	if len(pkts) == 0 {
		return nil
	}
	sp := idxScratch.Get().(*[]uint32)
	idx := (*sp)[:0]
	for _, m := range pkts {
		if m == nil || m.pool == nil || m.pool != mp {
			idxScratch.Put(sp)
			return fmt.Errorf("%w: buffer from pool %q put into %q", api.ErrInvalidArgument, owner(m), mp.Name())
		}
		idx = append(idx, m.idx)
	}
	err := putOps[mp.handles.Put](&mp.be, idx)
	*sp = idx
	idxScratch.Put(sp)
	return err
}

// GetBulk fills every slot of pkts or none (api.ErrInsufficient).
// Returned buffers are empty with the default headroom.
func (mp *Mempool) GetBulk(pkts []*Mbuf) error {
	if len(pkts) == 0 {
		return nil
	}
	sp := idxScratch.Get().(*[]uint32)
	idx := *sp
	if cap(idx) < len(pkts) {
		idx = make([]uint32, len(pkts))
	}
	idx = idx[:len(pkts)]
	err := getOps[mp.handles.Get](&mp.be, idx)
	if err == nil {
		for i, v := range idx {
			m := &mp.mbufs[v]
			m.reset()
			pkts[i] = m
		}
	} else {
		mp.getFail.Add(1)
	}
	*sp = idx
	idxScratch.Put(sp)
	return err
}

// Get takes one buffer.
func (mp *Mempool) Get() (*Mbuf, error) {
	var one [1]*Mbuf
	if err := mp.GetBulk(one[:]); err != nil {
		return nil, err
	}
	return one[0], nil
}

// Put returns one buffer.
func (mp *Mempool) Put(m *Mbuf) {
	one := [1]*Mbuf{m}
	_ = mp.PutBulk(one[:])
}

// Stats returns the occupancy snapshot. Refcount is filled in by Registry.
func (mp *Mempool) Stats() api.PoolStats {
	return api.PoolStats{
		Name:     mp.name,
		Node:     mp.node,
		EltSize:  mp.eltSize,
		Capacity: int(mp.count),
		Free:     mp.Count(),
		Backend:  mp.kind.String(),
	}
}

// Destroy unmaps the arena. Only safe when no buffer of this pool is in use
// anywhere; pools handed out by Registry are never destroyed.
func (mp *Mempool) Destroy() error {
	if mp.arena == nil {
		return nil
	}
	err := mp.alloc.Free(mp.arena)
	mp.arena = nil
	mp.mbufs = nil
	return err
}
