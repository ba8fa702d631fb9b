// Package fake
// Author: momentics <momentics@gmail.com>

package fake

import (
	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/pool"
)

// Topology maps CPU i to Nodes[i], and every other CPU to node 0.
type Topology struct {
	CPUNodes []int
}

var _ api.Topology = Topology{}

func (t Topology) NodeOfCPU(cpuID int) int {
	if cpuID >= 0 && cpuID < len(t.CPUNodes) {
		return t.CPUNodes[cpuID]
	}
	return 0
}

func (t Topology) Nodes() int {
	n := 1
	for _, v := range t.CPUNodes {
		n = max(n, v+1)
	}
	return n
}

// Frames takes n buffers from mp, each holding size bytes whose first byte
// is the buffer's position in the result.
func Frames(mp *pool.Mempool, n, size int) ([]*pool.Mbuf, error) {
	pkts := make([]*pool.Mbuf, n)
	if err := mp.GetBulk(pkts); err != nil {
		return nil, err
	}
	data := make([]byte, size)
	for i, m := range pkts {
		if size > 0 {
			data[0] = byte(i)
		}
		if err := m.SetData(data); err != nil {
			pool.FreeBulk(pkts)
			return nil, err
		}
	}
	return pkts, nil
}

// SmallPools returns a pool registry that creates small heap-backed pools.
func SmallPools(elements uint32) *pool.Registry {
	return pool.NewRegistry(pool.RegistryConfig{
		MaxElements: elements,
		MinElements: elements,
		Backend:     pool.BackendRing,
		Allocator:   pool.HeapAllocator{},
	})
}

// BudgetPools is SmallPools whose arenas together may not exceed budget
// bytes; anything beyond fails with api.ErrOutOfMemory.
func BudgetPools(elements uint32, budget int64) *pool.Registry {
	return pool.NewRegistry(pool.RegistryConfig{
		MaxElements: elements,
		MinElements: elements,
		Backend:     pool.BackendRing,
		Allocator:   &pool.BudgetAllocator{Allocator: pool.HeapAllocator{}, Budget: budget},
	})
}
