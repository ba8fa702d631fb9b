// File: internal/concurrency/qsbr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Quiescent-state based reclamation. Poll threads register a Reader and
// report a quiescent point at every burst boundary; a writer that has
// unpublished a pointer calls Synchronize and returns only once every online
// reader has reported at least once after the swap. Readers never lock.

package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const readerOffline = 0

// QSBR is one grace-period domain.
type QSBR struct {
	gp      atomic.Uint64 // current grace period, starts at 1
	mu      sync.Mutex
	readers map[*Reader]struct{}
}

// Reader is a per-thread handle. It must only be used by its owning thread.
type Reader struct {
	q   *QSBR
	seq atomic.Uint64 // last observed grace period, 0 while offline
}

// NewQSBR creates an empty domain.
func NewQSBR() *QSBR {
	q := &QSBR{readers: make(map[*Reader]struct{})}
	q.gp.Store(1)
	return q
}

// Register adds an online reader.
func (q *QSBR) Register() *Reader {
	r := &Reader{q: q}
	r.seq.Store(q.gp.Load())
	q.mu.Lock()
	q.readers[r] = struct{}{}
	q.mu.Unlock()
	return r
}

// Readers returns the number of registered readers.
func (q *QSBR) Readers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.readers)
}

// Quiescent reports that the thread holds no protected pointer.
func (r *Reader) Quiescent() {
	r.seq.Store(r.q.gp.Load())
}

// Offline marks an extended quiescent period, e.g. while the thread blocks.
func (r *Reader) Offline() {
	r.seq.Store(readerOffline)
}

// Online ends an offline period.
func (r *Reader) Online() {
	r.seq.Store(r.q.gp.Load())
}

// Unregister removes the reader; it counts as quiescent from then on.
func (r *Reader) Unregister() {
	r.Offline()
	r.q.mu.Lock()
	delete(r.q.readers, r)
	r.q.mu.Unlock()
}

// Synchronize starts a new grace period and waits until every registered
// reader is offline or has observed it. Must not be called by a reader.
func (q *QSBR) Synchronize(ctx context.Context) error {
	target := q.gp.Add(1)

	q.mu.Lock()
	pending := make([]*Reader, 0, len(q.readers))
	for r := range q.readers {
		pending = append(pending, r)
	}
	q.mu.Unlock()

	backoff := 10 * time.Microsecond
	for {
		n := 0
		for _, r := range pending {
			s := r.seq.Load()
			if s != readerOffline && s < target {
				pending[n] = r
				n++
			}
		}
		pending = pending[:n]
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < time.Millisecond {
			backoff *= 2
		}
	}
}
