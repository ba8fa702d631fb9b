// File: netdev/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netdev

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/momentics/hioload-dp/affinity"
	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/driver/ringdev"
	"github.com/momentics/hioload-dp/internal/concurrency"
	"github.com/momentics/hioload-dp/internal/log"
	"github.com/momentics/hioload-dp/pool"
)

// PortConfig holds the initial settings of a port.
type PortConfig struct {
	RxQueues int // requested rx queues, default 1
	TxQueues int // requested tx queues, default 1
	MTU      int // default 1500
	Node     int // NUMA node for vhost ports, physical ports report their own
}

type ringEntry struct {
	portNo int
	dev    *ringdev.Device
}

// Registry is the device list of one data plane. Device list mutation,
// attach and detach are serialized by its mutex; the packet path never takes it.
type Registry struct {
	mu     sync.Mutex
	ports  []*Port
	rings  []ringEntry
	opts   options
	events *vhostEvents
	rl     *log.RateLimiter
}

var monoEpoch = time.Now()

func monotonicNanos() int64 { return int64(time.Since(monoEpoch)) }

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	o := options{
		classifier:    api.NopClassifier,
		topology:      affinity.System{},
		clock:         monotonicNanos,
		drainInterval: DefaultDrainInterval,
		vhostRetry:    DefaultVhostRetry,
		pollThreads:   1,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pools == nil {
		o.pools = pool.NewRegistry(pool.DefaultRegistryConfig())
	}
	if o.qsbr == nil {
		o.qsbr = concurrency.NewQSBR()
	}
	return &Registry{
		opts:   o,
		events: newVhostEvents(),
		rl:     log.DefaultRateLimiter(),
	}
}

// Pools returns the pool registry.
func (r *Registry) Pools() *pool.Registry { return r.opts.pools }

// QSBR returns the grace-period domain poll threads must register with.
func (r *Registry) QSBR() *concurrency.QSBR { return r.opts.qsbr }

// AddPort parses name, opens the underlying device and brings the port up.
func (r *Registry) AddPort(name string, cfg PortConfig) (*Port, error) {
	kind, portNo, err := ParseName(name)
	if err != nil {
		return nil, err
	}
	if cfg.RxQueues <= 0 {
		cfg.RxQueues = 1
	}
	if cfg.TxQueues <= 0 {
		cfg.TxQueues = 1
	}
	if cfg.MTU <= 0 {
		cfg.MTU = DefaultMTU
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookup(name) != nil {
		return nil, fmt.Errorf("%w: port %q", api.ErrAlreadyExists, name)
	}
	for _, p := range r.ports {
		if kind != KindVhost && p.kind == kind && p.portNo == portNo {
			return nil, fmt.Errorf("%w: %s port %d is %q", api.ErrAlreadyExists, kind, portNo, p.name)
		}
	}

	p := &Port{reg: r, name: name, kind: kind, portNo: portNo}
	switch kind {
	case KindPhysical:
		if r.opts.driver == nil {
			return nil, fmt.Errorf("%w: no driver for physical port %q", api.ErrNotSupported, name)
		}
		eth, err := r.opts.driver.Open(portNo)
		if err != nil {
			return nil, fmt.Errorf("open %q: %w", name, err)
		}
		p.eth = eth
	case KindRing:
		p.eth = r.openRing(portNo)
	case KindVhost:
		p.vhostID = name
		if r.opts.vhostSockDir != "" {
			p.vhostID = filepath.Join(r.opts.vhostSockDir, name)
		}
	}
	if err := p.init(cfg); err != nil {
		return nil, err
	}
	r.ports = append(r.ports, p)
	log.Infof("port %s (%s) added on node %d", name, kind, p.node)
	return p, nil
}

// openRing returns the ring device for portNo, creating it on first use.
// Ring devices are never removed so a client can reattach to its rings.
func (r *Registry) openRing(portNo int) *ringdev.Device {
	for _, e := range r.rings {
		if e.portNo == portNo {
			return e.dev
		}
	}
	dev := ringdev.New(fmt.Sprintf("%s%d", PrefixRing, portNo), RingSize)
	r.rings = append(r.rings, ringEntry{portNo: portNo, dev: dev})
	return dev
}

// RingDevice returns the client end of ring device portNo.
func (r *Registry) RingDevice(portNo int) (*ringdev.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.rings {
		if e.portNo == portNo {
			return e.dev, nil
		}
	}
	return nil, fmt.Errorf("%w: ring %d", api.ErrDeviceNotFound, portNo)
}

// RemovePort stops and forgets a port. A vhost port with an attached guest
// is refused with ErrBusy. The caller must have stopped polling the port.
func (r *Registry) RemovePort(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := -1
	for i, p := range r.ports {
		if p.name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %q", api.ErrDeviceNotFound, name)
	}
	p := r.ports[idx]
	if p.kind == KindVhost && p.session.Load() != nil {
		return fmt.Errorf("%w: guest still attached to %q", api.ErrBusy, name)
	}
	p.destroy()
	r.ports = append(r.ports[:idx], r.ports[idx+1:]...)
	for _, o := range r.ports {
		o.peer.CompareAndSwap(p, nil)
	}
	log.Infof("port %s removed", name)
	return nil
}

// Port returns the named port.
func (r *Registry) Port(name string) (*Port, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.lookup(name); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", api.ErrDeviceNotFound, name)
}

func (r *Registry) lookup(name string) *Port {
	for _, p := range r.ports {
		if p.name == name {
			return p
		}
	}
	return nil
}

// Ports returns a snapshot of the device list.
func (r *Registry) Ports() []*Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Port(nil), r.ports...)
}

// SetPeer patches name to peer: everything received on name is sent to peer.
func (r *Registry) SetPeer(name, peer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.lookup(name)
	if p == nil {
		return fmt.Errorf("%w: %q", api.ErrDeviceNotFound, name)
	}
	q := r.lookup(peer)
	if q == nil {
		return fmt.Errorf("%w: peer %q", api.ErrDeviceNotFound, peer)
	}
	if p == q {
		return fmt.Errorf("%w: %q cannot peer with itself", api.ErrInvalidArgument, name)
	}
	p.peer.Store(q)
	log.Infof("port %s peered with %s", name, peer)
	return nil
}

// ClearPeer removes the peer of name.
func (r *Registry) ClearPeer(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.lookup(name)
	if p == nil {
		return fmt.Errorf("%w: %q", api.ErrDeviceNotFound, name)
	}
	p.peer.Store(nil)
	return nil
}

// Close stops every port. Pools stay mapped.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.ports {
		p.destroy()
	}
	r.ports = nil
}
