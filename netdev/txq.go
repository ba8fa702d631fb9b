// File: netdev/txq.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-core transmit batching. A poll thread appends to the queue of its own
// core; the queue goes to the hardware when it is full, when it is marked
// for eager flushing, or when the drain interval has elapsed. Queues shared
// between cores are serialized by their spinlock.

package netdev

import (
	"github.com/momentics/hioload-dp/internal/concurrency"
	"github.com/momentics/hioload-dp/pool"
)

type txQueue struct {
	lock      concurrency.SpinLock
	flushTx   bool  // flush on every enqueue
	count     int   // buffers in burst
	lastFlush int64 // clock value of the last flush
	burst     [MaxTxQueueLen]*pool.Mbuf
	lens      [MaxTxQueueLen]int // lengths captured before the device owns burst
}

// queuePkts appends pkts to tx queue qid in capacity-bounded chunks.
// Caller holds the queue lock when the port needs locking.
func (p *Port) queuePkts(cfg *txConfig, qid int, pkts []*pool.Mbuf) {
	txq := cfg.queues[qid]
	drain := p.reg.opts.drainInterval.Nanoseconds()
	for i := 0; i < len(pkts); {
		n := copy(txq.burst[txq.count:], pkts[i:])
		i += n
		txq.count += n
		if txq.count == MaxTxQueueLen || txq.flushTx {
			p.flushTxq(qid, txq)
		}
		if p.reg.opts.clock()-txq.lastFlush >= drain {
			p.flushTxq(qid, txq)
		}
	}
}

// flushTxq hands the batch to the device, retrying partial bursts until
// everything is sent or the device accepts nothing. The rest is freed and
// counted as dropped.
func (p *Port) flushTxq(qid int, txq *txQueue) {
	for i, m := range txq.burst[:txq.count] {
		txq.lens[i] = m.Len()
	}
	sent := 0
	for sent < txq.count {
		n := p.eth.TxBurst(qid, txq.burst[sent:txq.count])
		if n <= 0 {
			break
		}
		p.stats.countTxLens(txq.lens[sent : sent+n])
		sent += n
	}
	if sent < txq.count {
		pool.FreeBulk(txq.burst[sent:txq.count])
		p.stats.txDropped.Add(uint64(txq.count - sent))
	}
	clear(txq.burst[:txq.count])
	txq.count = 0
	txq.lastFlush = p.reg.opts.clock()
}

// dropPending frees whatever a queue still holds. Caller holds the lock.
func (p *Port) dropPending(txq *txQueue) {
	if txq.count == 0 {
		return
	}
	pool.FreeBulk(txq.burst[:txq.count])
	p.stats.txDropped.Add(uint64(txq.count))
	clear(txq.burst[:txq.count])
	txq.count = 0
}

// FlushTx drains tx queue qid. Poll threads call it for their own queue.
func (p *Port) FlushTx(qid int) {
	if p.kind == KindVhost {
		return
	}
	cfg := p.tx.Load()
	if cfg.stopped || len(cfg.queues) == 0 {
		return
	}
	qid %= len(cfg.queues)
	txq := cfg.queues[qid]
	if cfg.needsLocking {
		txq.lock.Lock()
		defer txq.lock.Unlock()
	}
	if txq.count > 0 {
		p.flushTxq(qid, txq)
	}
}

// DrainTx flushes tx queue qid when its contents have waited for at least
// the drain interval. Poll threads call it for their own queue once per
// iteration; a shared queue that is busy is skipped.
func (p *Port) DrainTx(qid int) {
	if p.kind == KindVhost {
		return
	}
	cfg := p.tx.Load()
	if cfg.stopped || len(cfg.queues) == 0 {
		return
	}
	qid %= len(cfg.queues)
	txq := cfg.queues[qid]
	if cfg.needsLocking {
		if !txq.lock.TryLock() {
			return
		}
		defer txq.lock.Unlock()
	}
	if txq.count > 0 && p.reg.opts.clock()-txq.lastFlush >= p.reg.opts.drainInterval.Nanoseconds() {
		p.flushTxq(qid, txq)
	}
}

// txQueueLen returns the fill count of queue qid.
func (p *Port) txQueueLen(qid int) int {
	cfg := p.tx.Load()
	return cfg.queues[qid%len(cfg.queues)].count
}
