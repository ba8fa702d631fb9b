// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-dp/ethdev"
	"github.com/momentics/hioload-dp/pool"
)

var _ ethdev.Virtio = (*Virtio)(nil)

// Virtio is a guest front-end with a bounded receive ring. It records the
// bytes it received and fails the test-visible Busy check if a call comes
// in after Close.
type Virtio struct {
	ifname string

	mu       sync.Mutex
	capacity int
	frames   [][]byte
	tx       [][]byte

	calls  atomic.Int64
	closed atomic.Bool
	late   atomic.Int64
}

// NewVirtio creates a guest presenting ifname whose receive ring holds
// capacity frames.
func NewVirtio(ifname string, capacity int) *Virtio {
	return &Virtio{ifname: ifname, capacity: capacity}
}

func (v *Virtio) IfName() string { return v.ifname }

func (v *Virtio) touch() {
	v.calls.Add(1)
	if v.closed.Load() {
		v.late.Add(1)
	}
}

func (v *Virtio) EnqueueBurst(pkts []*pool.Mbuf) int {
	v.touch()
	v.mu.Lock()
	defer v.mu.Unlock()
	n := min(len(pkts), v.capacity-len(v.frames))
	for _, m := range pkts[:n] {
		v.frames = append(v.frames, append([]byte(nil), m.Bytes()...))
	}
	return n
}

func (v *Virtio) DequeueBurst(mp *pool.Mempool, pkts []*pool.Mbuf) int {
	v.touch()
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for n < len(pkts) && len(v.tx) > 0 {
		m, err := mp.Get()
		if err != nil {
			break
		}
		_ = m.SetData(v.tx[0])
		v.tx = v.tx[1:]
		pkts[n] = m
		n++
	}
	return n
}

func (v *Virtio) FreeEntries() int {
	v.touch()
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.capacity - len(v.frames)
}

// Transmit queues a frame sent by the guest.
func (v *Virtio) Transmit(frame []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tx = append(v.tx, append([]byte(nil), frame...))
}

// Received returns the number of frames in the receive ring.
func (v *Virtio) Received() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.frames)
}

// Consume empties the receive ring.
func (v *Virtio) Consume() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	f := v.frames
	v.frames = nil
	return f
}

// Close marks the guest as torn down. Later calls are counted by Late.
func (v *Virtio) Close() { v.closed.Store(true) }

// Calls returns how many device calls were made.
func (v *Virtio) Calls() int64 { return v.calls.Load() }

// Late returns how many device calls arrived after Close.
func (v *Virtio) Late() int64 { return v.late.Load() }
