// File: facade/dataplane.go
// Unified facade layer for hioload-dp.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Dataplane assembles the device registry, the shared pools, the poll
// threads and the background loops (link watchdog, vhost events, command
// socket, configuration watcher) behind Start/Stop. Port reconfiguration
// stops the poll threads, applies the change and starts them again.

package facade

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-dp/adapters"
	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/control"
	"github.com/momentics/hioload-dp/driver/afpacket"
	"github.com/momentics/hioload-dp/ethdev"
	"github.com/momentics/hioload-dp/internal/log"
	"github.com/momentics/hioload-dp/netdev"
	"github.com/momentics/hioload-dp/pool"
)

// Dataplane is one running data plane.
type Dataplane struct {
	reg  *netdev.Registry
	ctrl *adapters.ControlAdapter

	ifMu    sync.RWMutex
	ifnames map[int]string

	mu       sync.Mutex // everything below
	cfg      *Config
	path     string
	started  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	done     chan error
	pmds     []*pmd
	pmdStop  context.CancelFunc
	pmdGroup *errgroup.Group
}

var _ api.GracefulShutdown = (*Dataplane)(nil)

// New builds the data plane and opens every configured port. extra options
// are applied after the defaults derived from cfg.
func New(cfg *Config, extra ...netdev.Option) (*Dataplane, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backend, _ := pool.ParseBackend(cfg.Pool.Backend)

	d := &Dataplane{cfg: cfg, ifnames: make(map[int]string)}
	pools := pool.NewRegistry(pool.RegistryConfig{
		MaxElements: cfg.Pool.MaxElements,
		MinElements: cfg.Pool.MinElements,
		Backend:     backend,
		Allocator:   pool.NewAllocator(cfg.Pool.HugePages),
	})
	opts := []netdev.Option{
		netdev.WithDriver(ethdev.DriverFunc(d.openPhysical)),
		netdev.WithPools(pools),
		netdev.WithTopology(coreTopology{cores: cfg.Cores}),
		netdev.WithPollThreads(len(cfg.Cores)),
		netdev.WithVhostSockDir(cfg.VhostSockDir),
	}
	d.reg = netdev.NewRegistry(append(opts, extra...)...)
	d.ctrl = adapters.NewControlAdapter(d.reg)

	if err := d.applyPorts(cfg); err != nil {
		d.reg.Close()
		return nil, err
	}
	d.ctrl.SetConfig(cfg.Flatten())
	return d, nil
}

// WatchConfig makes Start watch path and reload ports when it changes.
func (d *Dataplane) WatchConfig(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.path = path
}

// Registry returns the device registry.
func (d *Dataplane) Registry() *netdev.Registry { return d.reg }

// Control returns the control surface.
func (d *Dataplane) Control() api.Control { return d.ctrl }

// AttachGuest queues the attach of a guest front-end.
func (d *Dataplane) AttachGuest(dev ethdev.Virtio) <-chan error {
	return d.reg.PostVhostEvent(netdev.VhostNewDevice, dev)
}

// DetachGuest queues the detach of a guest front-end. The channel reports
// once no poll thread can reach dev any more.
func (d *Dataplane) DetachGuest(dev ethdev.Virtio) <-chan error {
	return d.reg.PostVhostEvent(netdev.VhostDestroyDevice, dev)
}

func (d *Dataplane) openPhysical(portNo int) (ethdev.EthDev, error) {
	d.ifMu.RLock()
	names := maps.Clone(d.ifnames)
	d.ifMu.RUnlock()
	return (&afpacket.Driver{IfNames: names}).Open(portNo)
}

// applyPorts converges the registry on cfg.Ports. Poll threads must be stopped.
func (d *Dataplane) applyPorts(cfg *Config) error {
	d.ifMu.Lock()
	clear(d.ifnames)
	for _, pc := range cfg.Ports {
		if kind, no, err := netdev.ParseName(pc.Name); err == nil && kind == netdev.KindPhysical && pc.IfName != "" {
			d.ifnames[no] = pc.IfName
		}
	}
	d.ifMu.Unlock()

	var errs []error
	for _, p := range d.reg.Ports() {
		if _, ok := cfg.Port(p.Name()); !ok {
			if err := d.reg.RemovePort(p.Name()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, pc := range cfg.Ports {
		rxq := max(pc.RxQueues, 1)
		txq := pc.TxQueues
		if txq == 0 {
			txq = len(cfg.Cores)
		}
		mtu := pc.MTU
		if mtu == 0 {
			mtu = netdev.DefaultMTU
		}

		p, err := d.reg.Port(pc.Name)
		if err != nil {
			_, err = d.reg.AddPort(pc.Name, netdev.PortConfig{RxQueues: rxq, TxQueues: txq, MTU: mtu, Node: pc.Node})
			if err != nil {
				errs = append(errs, err)
				continue
			}
		} else {
			if err := p.SetMultiq(txq, rxq); err != nil {
				errs = append(errs, err)
			}
			if err := p.SetMTU(mtu); err != nil {
				errs = append(errs, err)
			}
		}
		if err := d.reg.SetAdminState(pc.Name, pc.AdminUp == nil || *pc.AdminUp); err != nil {
			errs = append(errs, err)
		}
	}
	for _, pc := range cfg.Ports {
		var err error
		if pc.Peer != "" {
			err = d.reg.SetPeer(pc.Name, pc.Peer)
		} else {
			err = d.reg.ClearPeer(pc.Name)
		}
		if err != nil && !errors.Is(err, api.ErrDeviceNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start launches the poll threads and background loops. It returns once
// they are running; ctx bounds their lifetime.
func (d *Dataplane) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	if d.cfg.Socket != "" {
		srv := control.NewServer(d.cfg.Socket, d.ctrl)
		if err := srv.Listen(); err != nil {
			cancel()
			return err
		}
		g.Go(func() error { return srv.Serve(gctx) })
	}
	g.Go(func() error { return d.reg.RunWatchdog(gctx, d.cfg.WatchdogInterval) })
	g.Go(func() error { return d.reg.RunVhostEvents(gctx) })
	if d.path != "" {
		w := control.NewWatcher(d.path, d.Reload)
		g.Go(func() error { return w.Run(gctx) })
	}

	d.runCtx = gctx
	d.cancel = cancel
	d.done = make(chan error, 1)
	d.startPMDs()
	d.started = true
	go func() { d.done <- g.Wait() }()
	log.Infof("data plane started: %d ports, %d poll threads", len(d.reg.Ports()), len(d.pmds))
	return nil
}

// startPMDs runs one poll thread per configured core. Caller holds d.mu.
func (d *Dataplane) startPMDs() {
	ports := d.reg.Ports()
	shares := assignQueues(ports, len(d.cfg.Cores))
	ctx, stop := context.WithCancel(d.runCtx)
	g := new(errgroup.Group)
	d.pmds = d.pmds[:0]
	for i, cpu := range d.cfg.Cores {
		m := &pmd{
			idx:   i,
			cpu:   cpu,
			pin:   d.cfg.Pin,
			rxqs:  shares[i],
			ports: ports,
			qsbr:  d.reg.QSBR(),
		}
		d.pmds = append(d.pmds, m)
		g.Go(func() error { return m.run(ctx) })
	}
	d.pmdStop, d.pmdGroup = stop, g
}

// stopPMDs stops the poll threads and waits for them. Caller holds d.mu.
func (d *Dataplane) stopPMDs() {
	if d.pmdStop == nil {
		return
	}
	d.pmdStop()
	_ = d.pmdGroup.Wait()
	d.pmdStop, d.pmdGroup = nil, nil
}

// Loops returns the iteration count of every poll thread.
func (d *Dataplane) Loops() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint64, len(d.pmds))
	for i, m := range d.pmds {
		out[i] = m.loops.Load()
	}
	return out
}

// Reload reads path and applies its port section. Cores, pools and the
// command socket keep their start-up values.
func (d *Dataplane) Reload(path string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	return d.Apply(cfg)
}

// Apply converges the ports on cfg, pausing the poll threads meanwhile.
func (d *Dataplane) Apply(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		d.stopPMDs()
		defer d.startPMDs()
	}
	err := d.applyPorts(cfg)
	d.cfg.Ports = cfg.Ports
	d.ctrl.SetConfig(d.cfg.Flatten())
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	return nil
}

// Stop stops every thread started by Start. Ports stay open.
func (d *Dataplane) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.stopPMDs()
	d.cancel()
	done := d.done
	d.started = false
	d.mu.Unlock()
	return <-done
}

// Shutdown implements api.GracefulShutdown: Stop, then close every port.
func (d *Dataplane) Shutdown() error {
	err := d.Stop()
	d.reg.Close()
	return err
}
