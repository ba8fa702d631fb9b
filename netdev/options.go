// File: netdev/options.go
// Package netdev defines functional options for the device Registry.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netdev

import (
	"time"

	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/ethdev"
	"github.com/momentics/hioload-dp/internal/concurrency"
	"github.com/momentics/hioload-dp/pool"
)

const (
	// MaxTxQueueLen is the capacity of one tx batch queue.
	MaxTxQueueLen = 384
	// MaxBurst is the receive burst size.
	MaxBurst = 32
	// RingSize is the ring size of ring devices.
	RingSize = 256

	DefaultDrainInterval = 100 * time.Microsecond
	DefaultVhostRetry    = 100 * time.Microsecond
	DefaultMTU           = 1500
)

type options struct {
	driver        ethdev.Driver
	classifier    api.Classifier
	topology      api.Topology
	pools         *pool.Registry
	qsbr          *concurrency.QSBR
	clock         func() int64
	drainInterval time.Duration
	vhostRetry    time.Duration
	vhostSockDir  string
	pollThreads   int
}

// Option customizes registry initialization.
type Option func(*options)

// WithDriver sets the driver opening physical ports.
func WithDriver(d ethdev.Driver) Option {
	return func(o *options) {
		o.driver = d
	}
}

// WithClassifier sets the per-packet classifier.
func WithClassifier(c api.Classifier) Option {
	return func(o *options) {
		o.classifier = c
	}
}

// WithTopology overrides the CPU to NUMA node mapping.
func WithTopology(t api.Topology) Option {
	return func(o *options) {
		o.topology = t
	}
}

// WithPools shares an existing pool registry.
func WithPools(p *pool.Registry) Option {
	return func(o *options) {
		o.pools = p
	}
}

// WithQSBR shares an existing grace-period domain with the poll threads.
func WithQSBR(q *concurrency.QSBR) Option {
	return func(o *options) {
		o.qsbr = q
	}
}

// WithClock replaces the monotonic nanosecond clock used for tx draining.
func WithClock(fn func() int64) Option {
	return func(o *options) {
		o.clock = fn
	}
}

// WithDrainInterval sets how long a partial tx batch may wait.
func WithDrainInterval(d time.Duration) Option {
	return func(o *options) {
		o.drainInterval = d
	}
}

// WithVhostRetry sets the busy-wait budget for a full guest ring.
func WithVhostRetry(d time.Duration) Option {
	return func(o *options) {
		o.vhostRetry = d
	}
}

// WithVhostSockDir sets the directory prefix of vhost identities.
func WithVhostSockDir(dir string) Option {
	return func(o *options) {
		o.vhostSockDir = dir
	}
}

// WithPollThreads sets how many poll threads send on every port. A port
// with fewer tx queues than that shares them and locks each queue.
func WithPollThreads(n int) Option {
	return func(o *options) {
		o.pollThreads = n
	}
}
