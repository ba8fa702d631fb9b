// File: pool/mbuf.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"github.com/momentics/hioload-dp/api"
)

const (
	// Headroom is reserved in front of packet data in every element.
	Headroom = 128
	// EtherHdrLen is the Ethernet header length.
	EtherHdrLen = 14
	// EtherCRCLen is the Ethernet frame check sequence length.
	EtherCRCLen = 4
)

// FrameLen returns the maximum frame length for an MTU.
func FrameLen(mtu int) int {
	return mtu + EtherHdrLen + EtherCRCLen
}

// EltSizeForMTU returns the pool element size able to hold one frame.
func EltSizeForMTU(mtu int) int {
	return FrameLen(mtu) + Headroom
}

var _ api.Buffer = (*Mbuf)(nil)

// Mbuf is one packet buffer. Its storage is a fixed slice of the pool arena.
type Mbuf struct {
	pool   *Mempool
	idx    uint32
	buf    []byte
	off    int
	length int

	Port   uint16 // input port
	Hash   uint32 // RSS hash, 0 when unset
	FlowID int32  // classifier result
}

// Bytes returns the packet data.
func (m *Mbuf) Bytes() []byte { return m.buf[m.off : m.off+m.length] }

// Len returns the packet length.
func (m *Mbuf) Len() int { return m.length }

// Tailroom returns how many bytes can still be appended.
func (m *Mbuf) Tailroom() int { return len(m.buf) - m.off - m.length }

// SetData copies p into the buffer, replacing its contents. It returns
// ErrOversizedPacket if p does not fit after the headroom.
func (m *Mbuf) SetData(p []byte) error {
	if len(p) > len(m.buf)-Headroom {
		return api.ErrOversizedPacket
	}
	m.off = Headroom
	m.length = copy(m.buf[m.off:], p)
	return nil
}

// Append extends the packet by n bytes and returns the new region.
func (m *Mbuf) Append(n int) ([]byte, error) {
	if n > m.Tailroom() {
		return nil, api.ErrFull
	}
	start := m.off + m.length
	m.length += n
	return m.buf[start : start+n], nil
}

// Release returns the buffer to its pool.
func (m *Mbuf) Release() { m.pool.Put(m) }

// NUMANode returns the NUMA node of the owning pool.
func (m *Mbuf) NUMANode() int { return m.pool.node }

// Pool returns the owning pool.
func (m *Mbuf) Pool() *Mempool { return m.pool }

// Index returns the element index inside the pool arena.
func (m *Mbuf) Index() uint32 { return m.idx }

func (m *Mbuf) reset() {
	m.off = Headroom
	m.length = 0
	m.Port = 0
	m.Hash = 0
	m.FlowID = 0
}
