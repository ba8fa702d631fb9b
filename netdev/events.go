// File: netdev/events.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Guest connect/disconnect notifications arrive on socket threads; they are
// queued here and applied in order by one control goroutine, which is the
// only place a detach may wait for a grace period.

package netdev

import (
	"context"
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-dp/ethdev"
	"github.com/momentics/hioload-dp/internal/log"
)

// VhostEventKind distinguishes attach from detach.
type VhostEventKind uint8

const (
	VhostNewDevice VhostEventKind = iota
	VhostDestroyDevice
)

type vhostEvent struct {
	kind VhostEventKind
	dev  ethdev.Virtio
	done chan error
}

type vhostEvents struct {
	mu     sync.Mutex
	q      *queue.Queue
	notify chan struct{}
}

func newVhostEvents() *vhostEvents {
	return &vhostEvents{q: queue.New(), notify: make(chan struct{}, 1)}
}

func (e *vhostEvents) push(ev *vhostEvent) {
	e.mu.Lock()
	e.q.Add(ev)
	e.mu.Unlock()
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *vhostEvents) pop() *vhostEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.q.Length() == 0 {
		return nil
	}
	return e.q.Remove().(*vhostEvent)
}

// Pending returns the number of queued events.
func (e *vhostEvents) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.q.Length()
}

// PostVhostEvent queues an attach or detach of dev. The returned channel
// receives the outcome once RunVhostEvents has applied it.
func (r *Registry) PostVhostEvent(kind VhostEventKind, dev ethdev.Virtio) <-chan error {
	ev := &vhostEvent{kind: kind, dev: dev, done: make(chan error, 1)}
	r.events.push(ev)
	return ev.done
}

// PendingVhostEvents returns how many events wait for RunVhostEvents.
func (r *Registry) PendingVhostEvents() int { return r.events.Pending() }

// RunVhostEvents applies queued events until ctx is done.
func (r *Registry) RunVhostEvents(ctx context.Context) error {
	for {
		for ev := r.events.pop(); ev != nil; ev = r.events.pop() {
			var err error
			switch ev.kind {
			case VhostNewDevice:
				_, err = r.AttachVhost(ev.dev)
			case VhostDestroyDevice:
				err = r.DetachVhost(ctx, ev.dev)
			}
			if err != nil {
				log.Warnf("vhost event for %q: %v", ev.dev.IfName(), err)
			}
			ev.done <- err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-r.events.notify:
		}
	}
}
