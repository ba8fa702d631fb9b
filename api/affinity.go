// Package api
// Author: momentics@gmail.com
//
// CPU/NUMA topology definitions.

package api

// Topology answers which NUMA node a CPU core belongs to.
type Topology interface {
	NodeOfCPU(cpuID int) int
	Nodes() int
}
