// File: ethdev/ethdev.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Poll-mode device contracts consumed by netdev and implemented by the
// drivers. Burst calls never block; returning fewer items than requested is
// partial completion, not an error.

package ethdev

import (
	"fmt"
	"net"

	"github.com/momentics/hioload-dp/pool"
)

// DefaultRingDesc is the descriptor count used for every rx and tx queue.
const DefaultRingDesc = 2048

// DevInfo describes the limits of one device.
type DevInfo struct {
	Driver      string
	IfName      string
	MaxRxQueues int
	MaxTxQueues int
	MaxRxPktLen int
	Node        int // NUMA node, -1 when unknown
	HWAddr      net.HardwareAddr
}

// LinkStatus is a point-in-time link state.
type LinkStatus struct {
	Up         bool
	SpeedMbps  uint32
	FullDuplex bool
}

func (l LinkStatus) String() string {
	if !l.Up {
		return "Link Down"
	}
	duplex := "half-duplex"
	if l.FullDuplex {
		duplex = "full-duplex"
	}
	return fmt.Sprintf("Link Up - speed %d Mbps - %s", l.SpeedMbps, duplex)
}

// EthDev is a multi-queue poll-mode device.
type EthDev interface {
	Info() DevInfo
	// Configure sets the number of rx and tx queues. Queues must be set up
	// again afterwards.
	Configure(nRxq, nTxq int) error
	SetupTxQueue(qid, nDesc int) error
	SetupRxQueue(qid, nDesc int, mp *pool.Mempool) error
	Start() error
	Stop()
	SetPromisc(on bool)
	// LinkStatus must not block.
	LinkStatus() LinkStatus
	RxBurst(qid int, pkts []*pool.Mbuf) int
	// TxBurst takes ownership of the first n buffers it returns.
	TxBurst(qid int, pkts []*pool.Mbuf) int
}

// Driver opens physical devices by port number.
type Driver interface {
	Open(portNo int) (EthDev, error)
}

// DriverFunc adapts a function to Driver.
type DriverFunc func(portNo int) (EthDev, error)

func (f DriverFunc) Open(portNo int) (EthDev, error) { return f(portNo) }

// Virtio is the host end of an attached virtual-machine front-end.
type Virtio interface {
	// IfName is the identity matched against a port at attach time.
	IfName() string
	// EnqueueBurst copies packets into the guest receive ring and returns
	// how many were accepted. The caller keeps ownership of pkts.
	EnqueueBurst(pkts []*pool.Mbuf) int
	// DequeueBurst copies guest transmitted packets into buffers from mp.
	DequeueBurst(mp *pool.Mempool, pkts []*pool.Mbuf) int
	// FreeEntries returns free slots in the guest receive ring.
	FreeEntries() int
}

// HWStats are counters only the hardware knows about.
type HWStats struct {
	RxMissed uint64
	RxErrors uint64
	TxErrors uint64
}

// StatsReporter is implemented by drivers exposing hardware counters.
type StatsReporter interface {
	HWStats() HWStats
}
