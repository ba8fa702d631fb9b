// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity and NUMA topology. Platform-specific
// implementations are located in affinity_linux.go and affinity_stub.go.

package affinity

import (
	"runtime"

	"github.com/momentics/hioload-dp/api"
)

// SetAffinity locks the calling goroutine to its OS thread and pins that
// thread to the given logical CPU.
func SetAffinity(cpuID int) error {
	runtime.LockOSThread()
	return setAffinityPlatform(cpuID)
}

// NodeOfCPU returns the NUMA node of a logical CPU, 0 when unknown.
func NodeOfCPU(cpuID int) int {
	return nodeOfCPUPlatform(cpuID)
}

// Nodes returns the number of NUMA nodes, at least 1.
func Nodes() int {
	if n := nodesPlatform(); n > 0 {
		return n
	}
	return 1
}

// System is the host topology.
type System struct{}

var _ api.Topology = System{}

func (System) NodeOfCPU(cpuID int) int { return NodeOfCPU(cpuID) }
func (System) Nodes() int              { return Nodes() }
