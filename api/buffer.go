// Package api
// Author: momentics
//
// Packet buffer contract. Buffers live in a fixed-size pool element and are
// never copied unless the caller asks for it.

package api

// Buffer describes one packet buffer owned by a pool.
type Buffer interface {
	// Bytes returns the packet data currently held by the buffer.
	Bytes() []byte

	// Len returns the packet length in bytes.
	Len() int

	// Release returns the buffer to its pool.
	// After Release, buffer must not be used.
	Release()

	// NUMANode returns the NUMA node this buffer was allocated from.
	NUMANode() int
}

// PoolStats aggregates pool occupancy for observability.
type PoolStats struct {
	Name     string `json:"name"`
	Node     int    `json:"node"`
	EltSize  int    `json:"elt_size"`
	Capacity int    `json:"capacity"`
	Free     int    `json:"free"`
	Refcount int    `json:"refcount"`
	Backend  string `json:"backend"`
}
