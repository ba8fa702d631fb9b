// File: netdev/vhost.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Attach and detach of virtual-machine front-ends. Poll threads read the
// session of a vhost port with one atomic load per burst and never lock.
// Detach clears RUNNING, unpublishes the pointer and then waits one grace
// period so that no poll thread can still be inside the old session when
// the caller tears the guest connection down.

package netdev

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/ethdev"
	"github.com/momentics/hioload-dp/internal/concurrency"
	"github.com/momentics/hioload-dp/pool"
)

// VhostState is the attach state of a vhost port.
type VhostState uint32

const (
	VhostDetached VhostState = iota
	VhostAttaching
	VhostRunning
	VhostDetaching
)

func (s VhostState) String() string {
	switch s {
	case VhostDetached:
		return "detached"
	case VhostAttaching:
		return "attaching"
	case VhostRunning:
		return "running"
	case VhostDetaching:
		return "detaching"
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

// VirtioSession is one attached guest.
type VirtioSession struct {
	ID      uuid.UUID
	dev     ethdev.Virtio
	running atomic.Bool
}

// Device returns the guest device.
func (s *VirtioSession) Device() ethdev.Virtio { return s.dev }

// Running reports whether I/O against the session is enabled.
func (s *VirtioSession) Running() bool { return s.running.Load() }

// VhostState returns the attach state.
func (p *Port) VhostState() VhostState { return VhostState(p.vstate.Load()) }

// Session returns the published session, nil when detached.
func (p *Port) Session() *VirtioSession { return p.session.Load() }

// AttachVhost binds dev to the vhost port whose identity equals
// dev.IfName(). A miss is reported as ErrNoSuchPort.
func (r *Registry) AttachVhost(dev ethdev.Virtio) (*VirtioSession, error) {
	id := dev.IfName()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.ports {
		if p.kind != KindVhost || p.vhostID != id {
			continue
		}
		p.mu.Lock()
		if p.session.Load() != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: guest already attached to %q", api.ErrAlreadyExists, p.name)
		}
		p.vstate.Store(uint32(VhostAttaching))
		s := &VirtioSession{ID: uuid.New(), dev: dev}
		p.session.Store(s)
		s.running.Store(true)
		p.vstate.Store(uint32(VhostRunning))
		p.mu.Unlock()
		r.rl.Infof("vhost device %q attached to %s, session %s", id, p.name, s.ID)
		return s, nil
	}
	r.rl.Warnf("vhost device %q: no matching port", id)
	return nil, fmt.Errorf("%w: %q", api.ErrNoSuchPort, id)
}

// DetachVhost unbinds dev from every port it is attached to and waits for a
// grace period. When it returns nil no poll thread references dev any more.
func (r *Registry) DetachVhost(ctx context.Context, dev ethdev.Virtio) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var detached []*Port
	for _, p := range r.ports {
		if p.kind != KindVhost {
			continue
		}
		p.mu.Lock()
		if s := p.session.Load(); s != nil && s.dev == dev {
			p.vstate.Store(uint32(VhostDetaching))
			s.running.Store(false)
			p.session.Store(nil)
			detached = append(detached, p)
		}
		p.mu.Unlock()
	}
	if len(detached) == 0 {
		return fmt.Errorf("%w: %q not attached", api.ErrNoSuchPort, dev.IfName())
	}

	// No port mutex is held while waiting.
	if err := r.opts.qsbr.Synchronize(ctx); err != nil {
		return fmt.Errorf("detach %q: %w", dev.IfName(), err)
	}
	for _, p := range detached {
		p.vstate.Store(uint32(VhostDetached))
		r.rl.Infof("vhost device %q detached from %s", dev.IfName(), p.name)
	}
	return nil
}

// sendToSession enqueues pkts into the attached guest. A guest ring that
// stays full for longer than the retry budget costs the rest of the burst.
// pkts are always released.
func (p *Port) sendToSession(pkts []*pool.Mbuf) {
	s := p.session.Load()
	if s == nil || !s.Running() {
		p.stats.txDropped.Add(uint64(len(pkts)))
		pool.FreeBulk(pkts)
		return
	}
	locking := p.tx.Load().needsLocking
	if locking {
		p.vhostTxLock.Lock()
	}

	cur := pkts
	var start time.Time
	timedOut := false
	for len(cur) > 0 && s.Running() {
		if n := s.dev.EnqueueBurst(cur); n > 0 {
			cur = cur[n:]
			continue
		}
		if start.IsZero() {
			start = time.Now()
		}
		for spins := 0; s.dev.FreeEntries() == 0; spins++ {
			if time.Since(start) > p.reg.opts.vhostRetry {
				timedOut = true
				break
			}
			concurrency.Relax(spins)
		}
		if timedOut || time.Since(start) > p.reg.opts.vhostRetry {
			timedOut = true
			break
		}
	}
	if locking {
		p.vhostTxLock.Unlock()
	}

	sent := len(pkts) - len(cur)
	p.stats.countTx(pkts[:sent])
	if len(cur) > 0 {
		p.stats.txDropped.Add(uint64(len(cur)))
		if timedOut {
			p.stats.txTimeoutDrops.Add(uint64(len(cur)))
		}
	}
	pool.FreeBulk(pkts)
}

// vhostRecv dequeues one burst from the attached guest.
func (p *Port) vhostRecv(pkts []*pool.Mbuf) int {
	s := p.session.Load()
	if s == nil || !s.Running() {
		return 0
	}
	return s.dev.DequeueBurst(p.tx.Load().mp, pkts)
}
