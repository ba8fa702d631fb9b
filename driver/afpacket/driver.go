// File: driver/afpacket/driver.go
// Package afpacket drives kernel network interfaces through AF_PACKET
// sockets, one socket per queue.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package afpacket

import (
	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/ethdev"
)

// Driver maps physical port numbers to interface names.
type Driver struct {
	IfNames map[int]string
}

var _ ethdev.Driver = (*Driver)(nil)

// Open returns the device for portNo.
func (d *Driver) Open(portNo int) (ethdev.EthDev, error) {
	name, ok := d.IfNames[portNo]
	if !ok {
		return nil, api.NewError(api.ErrCodeDeviceNotFound, "af_packet: no interface for port").
			WithContext("port", portNo)
	}
	dev, err := Open(name)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }
