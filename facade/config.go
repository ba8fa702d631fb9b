// File: facade/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Data plane configuration. Loaded from YAML at start and again on every
// change of the file; only the port section is applied on reload.

package facade

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/netdev"
	"github.com/momentics/hioload-dp/pool"
)

// PortConfig describes one port.
type PortConfig struct {
	Name     string `yaml:"name"`               // phy<N>, ring<N> or vhost<id>
	IfName   string `yaml:"ifname,omitempty"`   // kernel interface behind a phy port
	RxQueues int    `yaml:"rx_queues"`          // requested rx queues
	TxQueues int    `yaml:"tx_queues"`          // requested tx queues, normally one per core
	MTU      int    `yaml:"mtu"`                // 0 selects 1500
	Node     int    `yaml:"node"`               // NUMA node of a vhost port
	Peer     string `yaml:"peer,omitempty"`     // forward everything received to this port
	AdminUp  *bool  `yaml:"admin_up,omitempty"` // nil keeps the port up
}

// PoolConfig sizes the shared buffer pools.
type PoolConfig struct {
	MaxElements uint32 `yaml:"max_elements"` // first creation attempt
	MinElements uint32 `yaml:"min_elements"` // smallest size after halving
	Backend     string `yaml:"backend"`      // ring or stack
	HugePages   bool   `yaml:"hugepages"`    // try MAP_HUGETLB first
}

// LogConfig selects log output.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config holds parameters of one data plane.
type Config struct {
	Cores            []int         `yaml:"cores"`             // logical CPUs running poll threads
	Pin              bool          `yaml:"pin"`               // pin poll threads to their CPU
	VhostSockDir     string        `yaml:"vhost_sock_dir"`    // prefix of vhost identities
	WatchdogInterval time.Duration `yaml:"watchdog_interval"` // link polling period
	Socket           string        `yaml:"socket"`            // admin command socket, empty disables
	Pool             PoolConfig    `yaml:"pool"`
	Log              LogConfig     `yaml:"log"`
	Ports            []PortConfig  `yaml:"ports"`
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		Cores:            []int{0},                       // one poll thread on CPU 0
		Pin:              true,                           // dedicated cores
		WatchdogInterval: netdev.DefaultWatchdogInterval, // 5 s
		Socket:           "/run/hioload-dp/control.sock", // admin socket
		Pool: PoolConfig{
			MaxElements: pool.DefaultMaxElements,
			MinElements: pool.DefaultMinElements,
			Backend:     pool.BackendRing.String(),
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks names, peers and sizes.
func (c *Config) Validate() error {
	if len(c.Cores) == 0 {
		return fmt.Errorf("%w: config: no cores", api.ErrInvalidArgument)
	}
	if _, err := pool.ParseBackend(c.Pool.Backend); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	seen := make(map[string]bool, len(c.Ports))
	for _, p := range c.Ports {
		if _, _, err := netdev.ParseName(p.Name); err != nil {
			return fmt.Errorf("config: port: %w", err)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: config: port %q listed twice", api.ErrInvalidArgument, p.Name)
		}
		seen[p.Name] = true
		if p.MTU < 0 || p.RxQueues < 0 || p.TxQueues < 0 {
			return fmt.Errorf("%w: config: port %q: negative size", api.ErrInvalidArgument, p.Name)
		}
	}
	for _, p := range c.Ports {
		if p.Peer != "" && !seen[p.Peer] {
			return fmt.Errorf("%w: config: port %q: peer %q not configured", api.ErrInvalidArgument, p.Name, p.Peer)
		}
		if p.Peer == p.Name && p.Peer != "" {
			return fmt.Errorf("%w: config: port %q peers with itself", api.ErrInvalidArgument, p.Name)
		}
	}
	return nil
}

// Port returns the named port section.
func (c *Config) Port(name string) (PortConfig, bool) {
	for _, p := range c.Ports {
		if p.Name == name {
			return p, true
		}
	}
	return PortConfig{}, false
}

// Flatten renders the configuration as the key/value view served by the
// control surface.
func (c *Config) Flatten() map[string]any {
	out := map[string]any{
		"cores":             c.Cores,
		"pin":               c.Pin,
		"vhost_sock_dir":    c.VhostSockDir,
		"watchdog_interval": c.WatchdogInterval.String(),
		"socket":            c.Socket,
		"pool.max_elements": c.Pool.MaxElements,
		"pool.min_elements": c.Pool.MinElements,
		"pool.backend":      strings.ToLower(c.Pool.Backend),
	}
	for _, p := range c.Ports {
		prefix := "port." + p.Name + "."
		out[prefix+"rx_queues"] = p.RxQueues
		out[prefix+"tx_queues"] = p.TxQueues
		out[prefix+"mtu"] = p.MTU
		out[prefix+"peer"] = p.Peer
		out[prefix+"admin_up"] = p.AdminUp == nil || *p.AdminUp
	}
	return out
}
