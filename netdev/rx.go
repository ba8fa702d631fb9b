// File: netdev/rx.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netdev

import (
	"github.com/momentics/hioload-dp/pool"
)

// Receive polls rx queue rxq into pkts. qid is the calling core's tx queue:
// a core polling the queue with its own index drains its tx batch first,
// and traffic forwarded to a peer leaves on that queue. Every packet is
// classified once. With a peer set the burst is handed to the peer and 0 is
// returned; otherwise the number of packets left in pkts.
func (p *Port) Receive(rxq, qid int, pkts []*pool.Mbuf) int {
	var n int
	if p.kind == KindVhost {
		n = p.vhostRecv(pkts)
	} else {
		cfg := p.tx.Load()
		if cfg.stopped {
			return 0
		}
		if rxq == qid && !cfg.needsLocking {
			p.FlushTx(qid)
		}
		n = p.eth.RxBurst(rxq, pkts)
	}
	if n == 0 {
		return 0
	}
	burst := pkts[:n]
	p.stats.countRx(burst)

	cls := p.reg.opts.classifier
	for _, m := range burst {
		m.Port = uint16(p.portNo)
		m.FlowID = cls.Classify(m.Bytes())
	}
	if peer := p.peer.Load(); peer != nil {
		peer.Send(qid, burst, true)
		return 0
	}
	return n
}
