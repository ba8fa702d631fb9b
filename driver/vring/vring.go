// File: driver/vring/vring.go
// Package vring is an in-process virtio front-end: a guest whose receive and
// transmit queues are plain rings of frames.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The host side satisfies ethdev.Virtio and copies frames across, the way a
// vhost-user back-end copies between mbufs and guest memory. Tests and the
// loopback command drive the guest side.

package vring

import (
	"sync/atomic"

	"github.com/momentics/hioload-dp/ethdev"
	"github.com/momentics/hioload-dp/internal/concurrency"
	"github.com/momentics/hioload-dp/pool"
)

var _ ethdev.Virtio = (*Guest)(nil)

// DefaultQueueSize is the size of each guest queue.
const DefaultQueueSize = 256

// Guest is one virtual machine front-end.
type Guest struct {
	ifname string
	rxq    *concurrency.Ring[[]byte] // host to guest
	txq    *concurrency.Ring[[]byte] // guest to host

	rxFrames atomic.Uint64
	txFrames atomic.Uint64
}

// New creates a guest presenting ifname with queues of size frames.
func New(ifname string, size int) *Guest {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Guest{
		ifname: ifname,
		rxq:    concurrency.NewRing[[]byte](ifname+"_rxq", uint32(size), 0),
		txq:    concurrency.NewRing[[]byte](ifname+"_txq", uint32(size), 0),
	}
}

func (g *Guest) IfName() string { return g.ifname }

// EnqueueBurst copies as many packets as the receive queue has room for.
func (g *Guest) EnqueueBurst(pkts []*pool.Mbuf) int {
	n := min(len(pkts), g.rxq.Free())
	if n == 0 {
		return 0
	}
	frames := make([][]byte, n)
	for i, m := range pkts[:n] {
		frames[i] = append([]byte(nil), m.Bytes()...)
	}
	sent := g.rxq.EnqueueBurst(frames)
	g.rxFrames.Add(uint64(sent))
	return sent
}

// DequeueBurst copies guest frames into buffers from mp. It stops early
// when mp runs dry; the frame stays queued.
func (g *Guest) DequeueBurst(mp *pool.Mempool, pkts []*pool.Mbuf) int {
	var one [1][]byte
	n := 0
	for n < len(pkts) && g.txq.Len() > 0 {
		m, err := mp.Get()
		if err != nil {
			break
		}
		if g.txq.DequeueBurst(one[:]) == 0 {
			m.Release()
			break
		}
		if err := m.SetData(one[0]); err != nil {
			m.Release()
			continue
		}
		pkts[n] = m
		n++
	}
	return n
}

func (g *Guest) FreeEntries() int { return g.rxq.Free() }

// Transmit queues a frame as if sent by the guest. It reports false when
// the transmit queue is full.
func (g *Guest) Transmit(frame []byte) bool {
	ok := g.txq.EnqueueBurst([][]byte{append([]byte(nil), frame...)}) == 1
	if ok {
		g.txFrames.Add(1)
	}
	return ok
}

// Receive drains up to len(out) frames delivered to the guest.
func (g *Guest) Receive(out [][]byte) int { return g.rxq.DequeueBurst(out) }

// Counters returns frames delivered to and sent by the guest.
func (g *Guest) Counters() (rx, tx uint64) { return g.rxFrames.Load(), g.txFrames.Load() }
