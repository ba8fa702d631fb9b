// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lock-free primitives shared by pools, devices and poll threads: a bounded
// bulk ring with single or multi producer/consumer modes, a spin lock for
// shared tx queues, and quiescent-state based reclamation for vhost detach.
package concurrency
