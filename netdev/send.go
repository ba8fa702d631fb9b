// File: netdev/send.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netdev

import (
	"github.com/momentics/hioload-dp/pool"
)

// Send transmits pkts on tx queue qid, normally the caller's core index.
// With mayRelease the port owns pkts from now on and frees whatever it
// cannot send. Without it the packets are copied into the port's own pool
// and the caller keeps pkts. Failures only show up in the counters.
func (p *Port) Send(qid int, pkts []*pool.Mbuf, mayRelease bool) {
	if len(pkts) == 0 {
		return
	}
	cfg := p.tx.Load()
	if p.kind == KindVhost {
		if mayRelease {
			p.sendToSession(pkts)
		} else {
			p.copyTx(cfg, qid, pkts)
		}
		return
	}
	if cfg.stopped {
		p.stats.txDropped.Add(uint64(len(pkts)))
		if mayRelease {
			pool.FreeBulk(pkts)
		}
		return
	}
	if p.kind == KindRing {
		for _, m := range pkts {
			m.Hash = 0
		}
	}
	if !mayRelease {
		p.copyTx(cfg, qid, pkts)
		return
	}

	qid %= len(cfg.queues)
	if cfg.needsLocking {
		txq := cfg.queues[qid]
		txq.lock.Lock()
		defer txq.lock.Unlock()
	}

	next := 0
	var oversize uint64
	for i, m := range pkts {
		if m.Len() > cfg.maxPacketLen {
			if i > next {
				p.queuePkts(cfg, qid, pkts[next:i])
			}
			m.Release()
			oversize++
			next = i + 1
		}
	}
	if next < len(pkts) {
		p.queuePkts(cfg, qid, pkts[next:])
	}
	if oversize > 0 {
		p.stats.txDropped.Add(oversize)
		p.stats.txOversizeDrops.Add(oversize)
	}
}

// copyTx copies pkts into fresh buffers of the port's pool and sends the
// copies. The originals are left to the caller.
func (p *Port) copyTx(cfg *txConfig, qid int, pkts []*pool.Mbuf) {
	var (
		buf     [MaxBurst]*pool.Mbuf
		dropped uint64
		over    uint64
	)
	for start := 0; start < len(pkts); start += MaxBurst {
		chunk := pkts[start:min(start+MaxBurst, len(pkts))]
		n := 0
		for i, src := range chunk {
			if src.Len() > cfg.maxPacketLen {
				over++
				continue
			}
			m, err := cfg.mp.Get()
			if err != nil {
				dropped += uint64(len(chunk) - i)
				break
			}
			if err := m.SetData(src.Bytes()); err != nil {
				m.Release()
				over++
				continue
			}
			m.Port = src.Port
			m.FlowID = src.FlowID
			buf[n] = m
			n++
		}
		if n == 0 {
			continue
		}
		if p.kind == KindVhost {
			p.sendToSession(buf[:n])
			continue
		}
		q := qid % len(cfg.queues)
		txq := cfg.queues[q]
		if cfg.needsLocking {
			txq.lock.Lock()
		}
		p.queuePkts(cfg, q, buf[:n])
		if txq.count > 0 {
			p.flushTxq(q, txq)
		}
		if cfg.needsLocking {
			txq.lock.Unlock()
		}
	}
	if dropped+over > 0 {
		p.stats.txDropped.Add(dropped + over)
	}
	if over > 0 {
		p.stats.txOversizeDrops.Add(over)
	}
}
