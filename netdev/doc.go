// Package netdev
// Author: momentics <momentics@gmail.com>
//
// Port devices of the hioload-dp data plane: physical NICs, in-process ring
// devices and virtual-machine front-ends (vhost). A Registry owns the device
// list and the pool registry; each Port negotiates its queue counts, batches
// outgoing packets per core and, for vhost ports, publishes the attached
// session to poll threads through a single atomic pointer reclaimed with a
// grace period.
//
// Locking order: Registry.mu, then Port.mu, then per-queue spinlocks. Poll
// threads take none of the mutexes.
package netdev
