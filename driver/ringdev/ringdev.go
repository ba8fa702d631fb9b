// File: driver/ringdev/ringdev.go
// Package ringdev implements a software device backed by a pair of rings.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// What the port transmits lands on <name>_tx, what it receives comes from
// <name>_rx. A client in the same process owns the other end of both rings
// through Recv and Inject. The rings survive Stop so that a client can keep
// its handle across port reconfiguration.

package ringdev

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-dp/ethdev"
	"github.com/momentics/hioload-dp/internal/concurrency"
	"github.com/momentics/hioload-dp/pool"
)

var _ ethdev.EthDev = (*Device)(nil)

// Device is a single-queue ring device.
type Device struct {
	name    string
	tx      *concurrency.Ring[*pool.Mbuf]
	rx      *concurrency.Ring[*pool.Mbuf]
	started atomic.Bool
	promisc atomic.Bool
}

// New creates the rings <name>_tx and <name>_rx holding size buffers each.
func New(name string, size int) *Device {
	return &Device{
		name: name,
		tx:   concurrency.NewRing[*pool.Mbuf](name+"_tx", uint32(size), concurrency.RingSP|concurrency.RingSC),
		rx:   concurrency.NewRing[*pool.Mbuf](name+"_rx", uint32(size), concurrency.RingSP|concurrency.RingSC),
	}
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

func (d *Device) Info() ethdev.DevInfo {
	return ethdev.DevInfo{
		Driver:      "ring",
		IfName:      d.name,
		MaxRxQueues: 1,
		MaxTxQueues: 1,
		MaxRxPktLen: 1 << 16,
		Node:        -1,
	}
}

func (d *Device) Configure(nRxq, nTxq int) error {
	if nRxq != 1 || nTxq != 1 {
		return fmt.Errorf("ring %s: %d rx / %d tx queues, only 1 supported", d.name, nRxq, nTxq)
	}
	return nil
}

func (d *Device) SetupTxQueue(qid, _ int) error {
	if qid != 0 {
		return fmt.Errorf("ring %s: no tx queue %d", d.name, qid)
	}
	return nil
}

func (d *Device) SetupRxQueue(qid, _ int, _ *pool.Mempool) error {
	if qid != 0 {
		return fmt.Errorf("ring %s: no rx queue %d", d.name, qid)
	}
	return nil
}

func (d *Device) Start() error {
	d.started.Store(true)
	return nil
}

func (d *Device) Stop() { d.started.Store(false) }

func (d *Device) SetPromisc(on bool) { d.promisc.Store(on) }

// Promisc reports the promiscuous flag last set by the port.
func (d *Device) Promisc() bool { return d.promisc.Load() }

func (d *Device) LinkStatus() ethdev.LinkStatus {
	if !d.started.Load() {
		return ethdev.LinkStatus{}
	}
	return ethdev.LinkStatus{Up: true, SpeedMbps: 10000, FullDuplex: true}
}

func (d *Device) RxBurst(_ int, pkts []*pool.Mbuf) int {
	if !d.started.Load() {
		return 0
	}
	return d.rx.DequeueBurst(pkts)
}

func (d *Device) TxBurst(_ int, pkts []*pool.Mbuf) int {
	if !d.started.Load() {
		return 0
	}
	return d.tx.EnqueueBurst(pkts)
}

// Recv takes buffers the port transmitted. The caller owns them.
func (d *Device) Recv(pkts []*pool.Mbuf) int { return d.tx.DequeueBurst(pkts) }

// Inject offers buffers to the port's receive side and returns how many
// were queued. Ownership of those passes to the port.
func (d *Device) Inject(pkts []*pool.Mbuf) int { return d.rx.EnqueueBurst(pkts) }

// Pending returns the number of buffers in the tx and rx rings.
func (d *Device) Pending() (tx, rx int) { return d.tx.Len(), d.rx.Len() }
