// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control over the control package
// primitives and a netdev device registry.

package adapters

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/sugawarayuuta/sonnet"

	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/control"
	"github.com/momentics/hioload-dp/netdev"
)

// ControlAdapter serves configuration, metrics, debug probes and admin
// commands for one data plane.
type ControlAdapter struct {
	reg     *netdev.Registry
	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
}

var _ api.Control = (*ControlAdapter)(nil)

// NewControlAdapter wires the control surfaces to reg.
func NewControlAdapter(reg *netdev.Registry) *ControlAdapter {
	adapter := &ControlAdapter{
		reg:     reg,
		config:  control.NewConfigStore(),
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
	}
	control.RegisterPlatformProbes(adapter.debug)
	adapter.metrics.Collect("port", adapter.portMetrics)
	adapter.debug.RegisterProbe("vhost.pending_events", func() any {
		return reg.PendingVhostEvents()
	})
	adapter.debug.RegisterProbe("qsbr.readers", func() any {
		return reg.QSBR().Readers()
	})
	adapter.debug.RegisterProbe("ports.count", func() any {
		return len(reg.Ports())
	})
	adapter.debug.RegisterProbe("ports.locked_txq", func() any {
		var names []string
		for _, p := range reg.Ports() {
			if p.NeedsLocking() {
				names = append(names, p.Name())
			}
		}
		return strings.Join(names, ",")
	})
	return adapter
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	c.config.SetConfig(cfg)
	return nil
}

func (c *ControlAdapter) Stats() map[string]any {
	combined := c.metrics.GetSnapshot()
	for k, v := range c.debug.DumpState() {
		combined["debug."+k] = v
	}
	return combined
}

// OnReload runs fn after every SetConfig.
func (c *ControlAdapter) OnReload(fn func()) {
	c.config.OnReload(func(map[string]any) { fn() })
}

func (c *ControlAdapter) SetMetric(key string, value any) {
	c.metrics.Set(key, value)
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

func (c *ControlAdapter) portMetrics() map[string]any {
	out := make(map[string]any)
	for _, p := range c.reg.Ports() {
		st := p.Stats()
		prefix := p.Name() + "."
		out[prefix+"rx_packets"] = st.RxPackets
		out[prefix+"rx_bytes"] = st.RxBytes
		out[prefix+"tx_packets"] = st.TxPackets
		out[prefix+"tx_bytes"] = st.TxBytes
		out[prefix+"tx_dropped"] = st.TxDropped
		out[prefix+"carrier"] = p.Carrier()
	}
	return out
}

const usage = `commands:
  set-admin-state [dev] up|down
  show [dev]
  stats [dev]
  pools
  config
  debug [prefix]
`

// Exec runs one admin command.
func (c *ControlAdapter) Exec(args []string) (string, error) {
	if len(args) == 0 {
		return usage, nil
	}
	switch args[0] {
	case "set-admin-state":
		return c.reg.ExecSetAdminState(args[1:])
	case "show":
		return c.show(args[1:])
	case "stats":
		return c.stats(args[1:])
	case "pools":
		return marshal(c.reg.Pools().Stats())
	case "config":
		return marshal(c.config.GetSnapshot())
	case "debug":
		return c.debugDump(args[1:])
	case "help":
		return usage, nil
	}
	return "", fmt.Errorf("%w: unknown command %q", api.ErrInvalidArgument, args[0])
}

func (c *ControlAdapter) ports(args []string) ([]*netdev.Port, error) {
	if len(args) > 1 {
		return nil, fmt.Errorf("%w: expected at most one device", api.ErrInvalidArgument)
	}
	if len(args) == 1 {
		p, err := c.reg.Port(args[0])
		if err != nil {
			return nil, fmt.Errorf("%w: unknown device %q", api.ErrDeviceNotFound, args[0])
		}
		return []*netdev.Port{p}, nil
	}
	return c.reg.Ports(), nil
}

func (c *ControlAdapter) show(args []string) (string, error) {
	ports, err := c.ports(args)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, p := range ports {
		fmt.Fprintf(&b, "%s:\n", p.Name())
		kv := p.Status()
		maps.Copy(kv, p.Config())
		kv["admin_state"] = "down"
		if p.Flags()&netdev.FlagUp != 0 {
			kv["admin_state"] = "up"
		}
		keys := make([]string, 0, len(kv))
		for k := range kv {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\t%s=%s\n", k, kv[k])
		}
	}
	return b.String(), nil
}

func (c *ControlAdapter) stats(args []string) (string, error) {
	ports, err := c.ports(args)
	if err != nil {
		return "", err
	}
	out := make(map[string]netdev.Stats, len(ports))
	for _, p := range ports {
		out[p.Name()] = p.Stats()
	}
	return marshal(out)
}

func (c *ControlAdapter) debugDump(args []string) (string, error) {
	if len(args) > 1 {
		return "", fmt.Errorf("%w: expected at most one prefix", api.ErrInvalidArgument)
	}
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}
	var b strings.Builder
	for _, r := range c.debug.Read(prefix) {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func marshal(v any) (string, error) {
	b, err := sonnet.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
