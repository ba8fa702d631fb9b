// File: netdev/admin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netdev

import (
	"fmt"
	"strings"

	"github.com/momentics/hioload-dp/api"
)

// ParseAdminState maps "up" and "down", in any case, to a boolean.
func ParseAdminState(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "up":
		return true, nil
	case "down":
		return false, nil
	}
	return false, fmt.Errorf("%w: invalid admin state %q", api.ErrInvalidArgument, s)
}

// SetAdminState forces the administrative state of the named port, or of
// every port when name is empty.
func (r *Registry) SetAdminState(name string, up bool) error {
	ports := r.Ports()
	if name != "" {
		p, err := r.Port(name)
		if err != nil {
			return fmt.Errorf("%w: unknown device %q", api.ErrDeviceNotFound, name)
		}
		ports = []*Port{p}
	}
	for _, p := range ports {
		var err error
		if up {
			_, err = p.UpdateFlags(0, FlagUp)
		} else {
			_, err = p.UpdateFlags(FlagUp, 0)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ExecSetAdminState runs the text form "[dev] up|down" and returns "OK".
func (r *Registry) ExecSetAdminState(args []string) (string, error) {
	if len(args) == 0 || len(args) > 2 {
		return "", fmt.Errorf("%w: usage: set-admin-state [dev] up|down", api.ErrInvalidArgument)
	}
	up, err := ParseAdminState(args[len(args)-1])
	if err != nil {
		return "", err
	}
	name := ""
	if len(args) == 2 {
		name = args[0]
	}
	if err := r.SetAdminState(name, up); err != nil {
		return "", err
	}
	return "OK", nil
}
