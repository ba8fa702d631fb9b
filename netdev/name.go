// File: netdev/name.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netdev

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/momentics/hioload-dp/api"
)

// Kind is the device class of a port.
type Kind uint8

const (
	KindPhysical Kind = iota
	KindRing
	KindVhost
)

// Name prefixes. Longer prefixes are matched first.
const (
	PrefixPhysical = "phy"
	PrefixRing     = "ring"
	PrefixVhost    = "vhost"
)

func (k Kind) String() string {
	switch k {
	case KindPhysical:
		return "physical"
	case KindRing:
		return "ring"
	case KindVhost:
		return "vhost"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseName splits a device name into its kind and identifier. Physical and
// ring names carry a port number (decimal, 0x hex or 0 octal); vhost names
// carry a free-form identifier and report port number -1.
func ParseName(name string) (Kind, int, error) {
	switch {
	case strings.HasPrefix(name, PrefixVhost):
		if len(name) == len(PrefixVhost) {
			return 0, 0, fmt.Errorf("%w: %q: missing vhost identifier", api.ErrInvalidArgument, name)
		}
		return KindVhost, -1, nil
	case strings.HasPrefix(name, PrefixRing):
		no, err := parsePortNo(name, PrefixRing)
		return KindRing, no, err
	case strings.HasPrefix(name, PrefixPhysical):
		no, err := parsePortNo(name, PrefixPhysical)
		return KindPhysical, no, err
	}
	return 0, 0, fmt.Errorf("%w: %q: unknown device prefix", api.ErrInvalidArgument, name)
}

func parsePortNo(name, prefix string) (int, error) {
	rest := name[len(prefix):]
	if rest == "" || rest[0] == '+' || rest[0] == '-' {
		return 0, fmt.Errorf("%w: %q: bad port number", api.ErrInvalidArgument, name)
	}
	v, err := strconv.ParseUint(rest, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: bad port number", api.ErrInvalidArgument, name)
	}
	return int(v), nil
}
