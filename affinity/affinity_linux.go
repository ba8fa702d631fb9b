//go:build linux
// +build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux implementation: sched_setaffinity for pinning, sysfs for topology.

package affinity

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const sysNodeDir = "/sys/devices/system/node"

// setAffinityPlatform sets thread affinity to a given CPU for Linux.
func setAffinityPlatform(cpuID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: sched_setaffinity cpu %d: %w", cpuID, err)
	}
	return nil
}

func nodeOfCPUPlatform(cpuID int) int {
	matches, err := filepath.Glob(fmt.Sprintf("/sys/devices/system/cpu/cpu%d/node*", cpuID))
	if err != nil || len(matches) == 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(matches[0]), "node"))
	if err != nil {
		return 0
	}
	return n
}

func nodesPlatform() int {
	entries, err := os.ReadDir(sysNodeDir)
	if err != nil {
		return 1
	}
	n := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "node") {
			continue
		}
		if _, err := strconv.Atoi(name[len("node"):]); err == nil {
			n++
		}
	}
	return n
}
