// File: netdev/stats.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netdev

import (
	"sync/atomic"

	"github.com/momentics/hioload-dp/ethdev"
	"github.com/momentics/hioload-dp/pool"
)

// Stats is a read-only counter snapshot of one port.
type Stats struct {
	RxPackets       uint64 `json:"rx_packets"`
	RxBytes         uint64 `json:"rx_bytes"`
	RxDropped       uint64 `json:"rx_dropped"`
	RxErrors        uint64 `json:"rx_errors"`
	RxLengthErrors  uint64 `json:"rx_length_errors"`
	Multicast       uint64 `json:"multicast"`
	TxPackets       uint64 `json:"tx_packets"`
	TxBytes         uint64 `json:"tx_bytes"`
	TxDropped       uint64 `json:"tx_dropped"`
	TxErrors        uint64 `json:"tx_errors"`
	TxOversizeDrops uint64 `json:"tx_oversize_drops"`
	TxTimeoutDrops  uint64 `json:"tx_timeout_drops"`
	CarrierResets   uint64 `json:"carrier_resets"`
}

type counters struct {
	rxPackets       atomic.Uint64
	rxBytes         atomic.Uint64
	rxLengthErrors  atomic.Uint64
	multicast       atomic.Uint64
	txPackets       atomic.Uint64
	txBytes         atomic.Uint64
	txDropped       atomic.Uint64
	txOversizeDrops atomic.Uint64
	txTimeoutDrops  atomic.Uint64
}

// countRx accounts a received burst. Frames shorter than an Ethernet header
// are length errors; a set group bit in the destination MAC is multicast.
func (c *counters) countRx(pkts []*pool.Mbuf) {
	var bytes, short, mcast uint64
	for _, m := range pkts {
		data := m.Bytes()
		bytes += uint64(len(data))
		if len(data) < pool.EtherHdrLen {
			short++
			continue
		}
		if data[0]&0x01 != 0 {
			mcast++
		}
	}
	c.rxPackets.Add(uint64(len(pkts)))
	c.rxBytes.Add(bytes)
	if short > 0 {
		c.rxLengthErrors.Add(short)
	}
	if mcast > 0 {
		c.multicast.Add(mcast)
	}
}

// countTx accounts sent buffers (bytes summed before they are released).
func (c *counters) countTx(sent []*pool.Mbuf) {
	var bytes uint64
	for _, m := range sent {
		bytes += uint64(m.Len())
	}
	c.txPackets.Add(uint64(len(sent)))
	c.txBytes.Add(bytes)
}

// countTxLens accounts sent buffers by their recorded lengths.
func (c *counters) countTxLens(lens []int) {
	var bytes uint64
	for _, l := range lens {
		bytes += uint64(l)
	}
	c.txPackets.Add(uint64(len(lens)))
	c.txBytes.Add(bytes)
}

// Stats returns a snapshot of the port counters.
func (p *Port) Stats() Stats {
	st := Stats{
		RxPackets:       p.stats.rxPackets.Load(),
		RxBytes:         p.stats.rxBytes.Load(),
		RxLengthErrors:  p.stats.rxLengthErrors.Load(),
		Multicast:       p.stats.multicast.Load(),
		TxPackets:       p.stats.txPackets.Load(),
		TxBytes:         p.stats.txBytes.Load(),
		TxDropped:       p.stats.txDropped.Load(),
		TxOversizeDrops: p.stats.txOversizeDrops.Load(),
		TxTimeoutDrops:  p.stats.txTimeoutDrops.Load(),
		CarrierResets:   p.linkResets.Load(),
	}
	st.RxErrors = st.RxLengthErrors
	if hw, ok := p.eth.(ethdev.StatsReporter); ok {
		h := hw.HWStats()
		st.RxDropped = h.RxMissed
		st.RxErrors += h.RxErrors
		st.TxErrors = h.TxErrors
	}
	return st
}
