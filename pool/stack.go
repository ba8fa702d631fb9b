// File: pool/stack.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded LIFO backend. The most recently freed element is handed out first
// so its cache lines are likely still warm.

package pool

import (
	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/internal/concurrency"
)

type stackBackend struct {
	lock concurrency.SpinLock
	len  int
	objs []uint32
}

func newStackBackend(size int) *stackBackend {
	return &stackBackend{objs: make([]uint32, size)}
}

func (s *stackBackend) put(in []uint32) error {
	s.lock.Lock()
	if s.len+len(in) > len(s.objs) {
		s.lock.Unlock()
		return api.ErrFull
	}
	copy(s.objs[s.len:], in)
	s.len += len(in)
	s.lock.Unlock()
	return nil
}

func (s *stackBackend) get(out []uint32) error {
	s.lock.Lock()
	if len(out) > s.len {
		s.lock.Unlock()
		return api.ErrInsufficient
	}
	top := s.len - 1
	for i := range out {
		out[i] = s.objs[top-i]
	}
	s.len -= len(out)
	s.lock.Unlock()
	return nil
}

func (s *stackBackend) count() int {
	s.lock.Lock()
	n := s.len
	s.lock.Unlock()
	return n
}
