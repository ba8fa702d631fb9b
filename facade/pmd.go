// File: facade/pmd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Poll-mode threads. Each one owns the tx queue with its own index on every
// port and polls a fixed share of the rx queues. Once per iteration it
// reports quiescence so that vhost detach can complete.

package facade

import (
	"context"
	"sync/atomic"

	"github.com/momentics/hioload-dp/affinity"
	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/internal/concurrency"
	"github.com/momentics/hioload-dp/internal/log"
	"github.com/momentics/hioload-dp/netdev"
	"github.com/momentics/hioload-dp/pool"
)

type rxQueue struct {
	port *netdev.Port
	qid  int
}

type pmd struct {
	idx   int // tx queue index, position in Config.Cores
	cpu   int
	pin   bool
	rxqs  []rxQueue
	ports []*netdev.Port
	qsbr  *concurrency.QSBR
	loops atomic.Uint64
}

// assignQueues spreads every rx queue of ports over n threads round-robin.
func assignQueues(ports []*netdev.Port, n int) [][]rxQueue {
	out := make([][]rxQueue, n)
	i := 0
	for _, p := range ports {
		rxq, _ := p.Queues()
		for q := 0; q < rxq; q++ {
			out[i%n] = append(out[i%n], rxQueue{port: p, qid: q})
			i++
		}
	}
	return out
}

func (m *pmd) run(ctx context.Context) error {
	// The thread must be registered before ctx can stop it, so a detach
	// racing with startup still waits for this thread.
	rd := m.qsbr.Register()
	defer rd.Unregister()

	// A pinned thread stays locked and exits with the goroutine.
	if m.pin {
		if err := affinity.SetAffinity(m.cpu); err != nil {
			log.Warnf("pmd %d: %v", m.idx, err)
		}
	}
	log.Debugf("pmd %d on cpu %d polling %d rx queues", m.idx, m.cpu, len(m.rxqs))

	var stop atomic.Bool
	go func() {
		<-ctx.Done()
		stop.Store(true)
	}()

	buf := make([]*pool.Mbuf, netdev.MaxBurst)
	for !stop.Load() {
		for _, q := range m.rxqs {
			if n := q.port.Receive(q.qid, m.idx, buf); n > 0 {
				// No peer: nothing consumes the burst.
				pool.FreeBulk(buf[:n])
			}
		}
		for _, p := range m.ports {
			p.DrainTx(m.idx)
		}
		m.loops.Add(1)
		rd.Quiescent()
	}

	for _, p := range m.ports {
		p.FlushTx(m.idx)
	}
	rd.Offline()
	return nil
}

// coreTopology maps tx queue i to the NUMA node of the i-th configured core.
type coreTopology struct {
	cores []int
}

var _ api.Topology = coreTopology{}

func (t coreTopology) NodeOfCPU(i int) int {
	if i >= 0 && i < len(t.cores) {
		return affinity.NodeOfCPU(t.cores[i])
	}
	return affinity.NodeOfCPU(i)
}

func (t coreTopology) Nodes() int { return affinity.Nodes() }
