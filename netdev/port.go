// File: netdev/port.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netdev

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/ethdev"
	"github.com/momentics/hioload-dp/internal/concurrency"
	"github.com/momentics/hioload-dp/internal/log"
	"github.com/momentics/hioload-dp/pool"
)

// Flags are the administrative flags of a port.
type Flags uint32

const (
	FlagUp Flags = 1 << iota
	FlagPromisc
)

// txConfig is the packet-path view of a port. It is replaced as a whole on
// reconfiguration and read with one atomic load per burst.
type txConfig struct {
	queues       []*txQueue
	needsLocking bool
	stopped      bool // admin down: bursts must not reach the device
	maxPacketLen int
	mp           *pool.Mempool
}

// Port is one device of the data plane.
type Port struct {
	reg     *Registry
	name    string
	kind    Kind
	portNo  int
	vhostID string
	eth     ethdev.EthDev // nil for vhost

	adminMu sync.Mutex // serializes UpdateFlags across its grace period

	mu           sync.Mutex // configuration below
	node         int
	hwaddr       net.HardwareAddr
	mp           *pool.Mempool
	mtu          int
	flags        Flags
	requestedRxq int
	requestedTxq int
	nRxq         int
	realTxq      int
	link         ethdev.LinkStatus

	tx          atomic.Pointer[txConfig]
	peer        atomic.Pointer[Port]
	session     atomic.Pointer[VirtioSession]
	vstate      atomic.Uint32
	vhostTxLock concurrency.SpinLock
	linkResets  atomic.Uint64
	stats       counters
}

func (p *Port) init(cfg PortConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.node = cfg.Node
	if p.eth != nil {
		info := p.eth.Info()
		p.node = info.Node
		p.hwaddr = info.HWAddr
	}
	if p.node < 0 {
		p.node = 0
	}
	p.mtu = cfg.MTU
	p.flags = FlagUp | FlagPromisc
	p.requestedRxq = cfg.RxQueues
	p.requestedTxq = cfg.TxQueues

	mp, err := p.reg.opts.pools.Acquire(p.node, pool.EltSizeForMTU(p.mtu))
	if err != nil {
		return fmt.Errorf("port %q: %w", p.name, err)
	}
	p.mp = mp

	if p.kind == KindVhost {
		p.realTxq = 1
		p.nRxq = 1
		p.publishTx(nil)
		return nil
	}
	if err := p.ethDevInit(); err != nil {
		p.reg.opts.pools.Release(mp)
		p.mp = nil
		return fmt.Errorf("port %q: %w", p.name, err)
	}
	p.publishTx(p.allocTxq(p.realTxq))
	return nil
}

// ethDevInit negotiates queues and starts the device. Caller holds p.mu.
func (p *Port) ethDevInit() error {
	rxq, txq, err := NegotiateQueues(p.eth, p.mp, p.requestedRxq, p.requestedTxq)
	if err != nil {
		return err
	}
	if txq != p.requestedTxq || rxq != p.requestedRxq {
		p.reg.rl.Infof("port %s: %d rx / %d tx queues requested, %d / %d configured",
			p.name, p.requestedRxq, p.requestedTxq, rxq, txq)
	}
	p.nRxq = rxq
	p.realTxq = txq
	if p.flags&FlagUp == 0 {
		return nil
	}
	if err := p.eth.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	p.eth.SetPromisc(true)
	p.link = p.eth.LinkStatus()
	return nil
}

// allocTxq builds n batch queues. A queue owned by a core on another NUMA
// node than the device flushes on every enqueue; so does every queue that
// is shared between cores.
func (p *Port) allocTxq(n int) []*txQueue {
	locking := p.sharedTxq()
	now := p.reg.opts.clock()
	qs := make([]*txQueue, n)
	for i := range qs {
		q := &txQueue{lastFlush: now}
		if locking {
			q.flushTx = true
		} else {
			q.flushTx = p.reg.opts.topology.NodeOfCPU(i) != p.node
		}
		qs[i] = q
	}
	return qs
}

// sharedTxq reports whether a tx queue can have more than one sender:
// fewer queues were configured than requested, or fewer than there are
// poll threads. Caller holds p.mu.
func (p *Port) sharedTxq() bool {
	return p.realTxq != p.requestedTxq || p.realTxq < p.reg.opts.pollThreads
}

// republishTx publishes the current queues again after a flag change.
// Caller holds p.mu.
func (p *Port) republishTx() {
	var queues []*txQueue
	if cur := p.tx.Load(); cur != nil {
		queues = cur.queues
	}
	p.publishTx(queues)
}

// publishTx installs a new packet-path view. Caller holds p.mu. Buffers
// pending in replaced queues are dropped.
func (p *Port) publishTx(queues []*txQueue) {
	old := p.tx.Load()
	p.tx.Store(&txConfig{
		queues:       queues,
		needsLocking: p.sharedTxq(),
		stopped:      p.eth != nil && p.flags&FlagUp == 0,
		maxPacketLen: pool.FrameLen(p.mtu),
		mp:           p.mp,
	})
	if old == nil {
		return
	}
	for _, q := range old.queues {
		if !containsQueue(queues, q) {
			q.lock.Lock()
			p.dropPending(q)
			q.lock.Unlock()
		}
	}
}

func containsQueue(qs []*txQueue, q *txQueue) bool {
	for _, x := range qs {
		if x == q {
			return true
		}
	}
	return false
}

func (p *Port) destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.eth != nil {
		p.eth.Stop()
	}
	if cfg := p.tx.Load(); cfg != nil {
		for _, q := range cfg.queues {
			q.lock.Lock()
			p.dropPending(q)
			q.lock.Unlock()
		}
	}
	p.reg.opts.pools.Release(p.mp)
	p.mp = nil
}

// Name returns the device name.
func (p *Port) Name() string { return p.name }

// Kind returns the device class.
func (p *Port) Kind() Kind { return p.kind }

// PortNo returns the port number, -1 for vhost ports.
func (p *Port) PortNo() int { return p.portNo }

// VhostID returns the identity a guest must present to attach.
func (p *Port) VhostID() string { return p.vhostID }

// Peer returns the patched peer, nil if none.
func (p *Port) Peer() *Port { return p.peer.Load() }

// Node returns the NUMA node of the port.
func (p *Port) Node() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.node
}

// MTU returns the current MTU.
func (p *Port) MTU() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mtu
}

// Pool returns the bound buffer pool.
func (p *Port) Pool() *pool.Mempool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mp
}

// Flags returns the administrative flags.
func (p *Port) Flags() Flags {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flags
}

// Queues returns the negotiated rx and tx queue counts.
func (p *Port) Queues() (rxq, txq int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nRxq, p.realTxq
}

// RequestedQueues returns the configured rx and tx queue counts.
func (p *Port) RequestedQueues() (rxq, txq int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requestedRxq, p.requestedTxq
}

// NeedsLocking reports whether tx queues are shared between cores.
func (p *Port) NeedsLocking() bool {
	return p.tx.Load().needsLocking
}

// HWAddr returns the device MAC address, nil if unknown.
func (p *Port) HWAddr() net.HardwareAddr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hwaddr
}

// Config returns the queue configuration as key/value pairs.
func (p *Port) Config() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]string{
		"configured_rx_queues": strconv.Itoa(p.nRxq),
		"requested_tx_queues":  strconv.Itoa(p.requestedTxq),
		"configured_tx_queues": strconv.Itoa(p.realTxq),
	}
}

// Status returns driver and limit information.
func (p *Port) Status() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := map[string]string{
		"kind":    p.kind.String(),
		"node":    strconv.Itoa(p.node),
		"mtu":     strconv.Itoa(p.mtu),
		"pool":    p.mp.Name(),
		"carrier": strconv.FormatBool(p.carrierLocked()),
	}
	if p.eth != nil {
		info := p.eth.Info()
		st["port_no"] = strconv.Itoa(p.portNo)
		st["driver_name"] = info.Driver
		st["max_rx_queues"] = strconv.Itoa(info.MaxRxQueues)
		st["max_tx_queues"] = strconv.Itoa(info.MaxTxQueues)
		st["max_rx_pktlen"] = strconv.Itoa(info.MaxRxPktLen)
		if info.IfName != "" {
			st["if_name"] = info.IfName
		}
	} else {
		st["vhost_id"] = p.vhostID
		st["vhost_state"] = p.VhostState().String()
	}
	if peer := p.peer.Load(); peer != nil {
		st["peer"] = peer.name
	}
	return st
}

// Carrier reports whether the port can currently carry traffic.
func (p *Port) Carrier() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.carrierLocked()
}

func (p *Port) carrierLocked() bool {
	if p.kind == KindVhost {
		s := p.session.Load()
		return s != nil && s.Running()
	}
	p.checkLinkStatus()
	return p.link.Up
}

// LinkResets returns the number of observed link transitions.
func (p *Port) LinkResets() uint64 { return p.linkResets.Load() }

// checkLinkStatus compares the hardware link state with the last observed
// one. Caller holds p.mu.
func (p *Port) checkLinkStatus() {
	ls := p.eth.LinkStatus()
	if ls.Up == p.link.Up {
		return
	}
	p.linkResets.Add(1)
	p.link = ls
	p.reg.rl.Infof("port %s %s", p.name, ls)
}

// SetMultiq requests new queue counts. Physical and ring ports are stopped
// and renegotiated; on failure the previous counts are restored. Vhost ports
// always run one rx and one tx queue. Must not be called while a poll thread
// services the port.
func (p *Port) SetMultiq(nTxq, nRxq int) error {
	if nTxq <= 0 || nRxq <= 0 {
		return fmt.Errorf("%w: %d tx / %d rx queues", api.ErrInvalidArgument, nTxq, nRxq)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if nTxq == p.requestedTxq && nRxq == p.requestedRxq {
		return nil
	}
	if p.kind == KindVhost {
		p.requestedTxq, p.requestedRxq = nTxq, nRxq
		p.realTxq, p.nRxq = 1, 1
		p.publishTx(nil)
		return nil
	}

	oldTx, oldRx := p.requestedTxq, p.requestedRxq
	p.eth.Stop()
	p.requestedTxq, p.requestedRxq = nTxq, nRxq
	if err := p.ethDevInit(); err != nil {
		p.requestedTxq, p.requestedRxq = oldTx, oldRx
		if rerr := p.ethDevInit(); rerr != nil {
			log.Errorf("port %s: restoring %d tx / %d rx queues failed: %v", p.name, oldTx, oldRx, rerr)
		}
		return fmt.Errorf("port %q: %w", p.name, err)
	}
	p.publishTx(p.allocTxq(p.realTxq))
	return nil
}

// SetMTU switches the port to a pool sized for mtu. On failure the old MTU
// and pool are restored. Must not be called while a poll thread services the port.
func (p *Port) SetMTU(mtu int) error {
	if mtu <= 0 {
		return fmt.Errorf("%w: mtu %d", api.ErrInvalidArgument, mtu)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if mtu == p.mtu {
		return nil
	}
	mp, err := p.reg.opts.pools.Acquire(p.node, pool.EltSizeForMTU(mtu))
	if err != nil {
		return fmt.Errorf("port %q: mtu %d: %w", p.name, mtu, err)
	}
	oldMP, oldMTU := p.mp, p.mtu
	p.mp, p.mtu = mp, mtu

	if p.eth != nil {
		p.eth.Stop()
		if err := p.ethDevInit(); err != nil {
			p.reg.opts.pools.Release(mp)
			p.mp, p.mtu = oldMP, oldMTU
			if rerr := p.ethDevInit(); rerr != nil {
				log.Errorf("port %s: restoring mtu %d failed: %v", p.name, oldMTU, rerr)
			}
			return fmt.Errorf("port %q: mtu %d: %w", p.name, mtu, err)
		}
	}
	p.reg.opts.pools.Release(oldMP)
	var queues []*txQueue
	if cur := p.tx.Load(); cur != nil {
		queues = cur.queues
	}
	if p.eth != nil && len(queues) != p.realTxq {
		queues = p.allocTxq(p.realTxq)
	}
	p.publishTx(queues)
	return nil
}

// UpdateFlags clears off and sets on, returning the previous flags. Only
// FlagUp and FlagPromisc are accepted. Taking a port down first hides the
// device from the packet path and waits for every poll thread to pass a
// quiescent point; only then is the device stopped.
func (p *Port) UpdateFlags(off, on Flags) (Flags, error) {
	if (off|on)&^(FlagUp|FlagPromisc) != 0 {
		return 0, fmt.Errorf("%w: flags %#x", api.ErrInvalidArgument, uint32(off|on))
	}
	p.adminMu.Lock()
	defer p.adminMu.Unlock()

	p.mu.Lock()
	old := p.flags
	p.flags = (p.flags | on) &^ off
	if p.flags == old || p.eth == nil {
		p.mu.Unlock()
		return old, nil
	}
	if p.flags&FlagUp != 0 && old&FlagUp == 0 {
		if err := p.eth.Start(); err != nil {
			p.flags = old
			p.mu.Unlock()
			return old, fmt.Errorf("port %q: start: %w", p.name, err)
		}
		p.link = p.eth.LinkStatus()
		p.republishTx()
	}
	if (p.flags^old)&FlagPromisc != 0 {
		p.eth.SetPromisc(p.flags&FlagPromisc != 0)
	}
	down := p.flags&FlagUp == 0 && old&FlagUp != 0
	if down {
		p.republishTx()
	}
	p.mu.Unlock()
	if !down {
		return old, nil
	}

	// No port mutex is held while waiting.
	if err := p.reg.opts.qsbr.Synchronize(context.Background()); err != nil {
		return old, fmt.Errorf("port %q: down: %w", p.name, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eth.Stop()
	return old, nil
}
