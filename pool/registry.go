// File: pool/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry shares pools between devices with the same NUMA node and element
// size. Pools are reference counted but never freed: a released pool stays
// mapped until process exit because other processes may still hold element
// indices into its arena and there is no way to prove otherwise. A later
// Acquire with the same key reuses it.

package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/internal/log"
)

const (
	DefaultMaxElements = 4096 * 64
	DefaultMinElements = 4096 * 4
)

// RegistryConfig tunes pool creation.
type RegistryConfig struct {
	MaxElements uint32 // first attempt
	MinElements uint32 // smallest size tried after halving
	Backend     BackendKind
	Allocator   Allocator
}

// DefaultRegistryConfig returns the default sizes with the ring backend.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MaxElements: DefaultMaxElements,
		MinElements: DefaultMinElements,
		Backend:     BackendRing,
	}
}

type poolRef struct {
	mp     *Mempool
	refcnt int
}

// Registry is the table of shared pools.
type Registry struct {
	mu    sync.Mutex
	cfg   RegistryConfig
	pools []*poolRef
	rl    *log.RateLimiter
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxElements == 0 {
		cfg.MaxElements = DefaultMaxElements
	}
	if cfg.MinElements == 0 || cfg.MinElements > cfg.MaxElements {
		cfg.MinElements = cfg.MaxElements
	}
	if cfg.Allocator == nil {
		cfg.Allocator = DefaultAllocator()
	}
	return &Registry{cfg: cfg, rl: log.DefaultRateLimiter()}
}

// Acquire returns the pool for (node, eltSize), creating it if needed, and
// takes a reference. Creation starts at MaxElements and halves on
// ErrOutOfMemory down to MinElements; other errors abort immediately.
func (r *Registry) Acquire(node, eltSize int) (*Mempool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range r.pools {
		if ref.mp.node == node && ref.mp.eltSize == eltSize {
			ref.refcnt++
			return ref.mp, nil
		}
	}

	n := r.cfg.MaxElements
	for {
		mp, err := New(Config{
			Name:      fmt.Sprintf("hdp_mp_%d_%d_%d", eltSize, node, n),
			Count:     n,
			EltSize:   eltSize,
			Node:      node,
			Backend:   r.cfg.Backend,
			Allocator: r.cfg.Allocator,
		})
		if err == nil {
			r.pools = append(r.pools, &poolRef{mp: mp, refcnt: 1})
			log.Debugf("pool %s created with %d elements", mp.name, n)
			return mp, nil
		}
		if !errors.Is(err, api.ErrOutOfMemory) || n/2 < r.cfg.MinElements {
			return nil, err
		}
		r.rl.Warnf("pool for node %d size %d: %d elements failed, retrying with %d", node, eltSize, n, n/2)
		n /= 2
	}
}

// Release drops a reference. Memory is kept, see the type documentation.
func (r *Registry) Release(mp *Mempool) {
	if mp == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ref := range r.pools {
		if ref.mp == mp {
			if ref.refcnt > 0 {
				ref.refcnt--
			}
			return
		}
	}
}

// Refcount returns the reference count of mp, -1 if unknown.
func (r *Registry) Refcount(mp *Mempool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ref := range r.pools {
		if ref.mp == mp {
			return ref.refcnt
		}
	}
	return -1
}

// Len returns the number of pools ever created.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}

// Stats returns a snapshot of every pool.
func (r *Registry) Stats() []api.PoolStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]api.PoolStats, 0, len(r.pools))
	for _, ref := range r.pools {
		st := ref.mp.Stats()
		st.Refcount = ref.refcnt
		out = append(out, st)
	}
	return out
}
