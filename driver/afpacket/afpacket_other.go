//go:build !linux

// File: driver/afpacket/afpacket_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package afpacket

import (
	"fmt"

	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/ethdev"
)

// Open always fails: AF_PACKET exists only on Linux.
func Open(ifname string) (ethdev.EthDev, error) {
	return nil, fmt.Errorf("%w: af_packet %s", api.ErrNotSupported, ifname)
}
