// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named diagnostic readings for the admin socket. Probes are read on demand
// from the control thread, never from a poll thread.

package control

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/momentics/hioload-dp/api"
)

var _ api.Debug = (*DebugProbes)(nil)

// Reading is one probe value taken at dump time. Err is set instead of
// Value when the probe panicked.
type Reading struct {
	Name  string `json:"name"`
	Value any    `json:"value,omitempty"`
	Err   string `json:"error,omitempty"`
}

func (r Reading) String() string {
	if r.Err != "" {
		return r.Name + " error: " + r.Err
	}
	return fmt.Sprintf("%s=%v", r.Name, r.Value)
}

// DebugProbes holds registered probe functions keyed by dotted name,
// e.g. "vhost.pending_events".
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: make(map[string]func() any),
	}
}

// RegisterProbe inserts a named debug hook, replacing one of the same name.
// A nil fn removes it.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if fn == nil {
		delete(dp.probes, name)
		return
	}
	dp.probes[name] = fn
}

// Read evaluates every probe whose name starts with prefix and returns the
// readings sorted by name.
func (dp *DebugProbes) Read(prefix string) []Reading {
	dp.mu.RLock()
	names := make([]string, 0, len(dp.probes))
	fns := make(map[string]func() any, len(dp.probes))
	for name, fn := range dp.probes {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
			fns[name] = fn
		}
	}
	dp.mu.RUnlock()

	slices.Sort(names)
	out := make([]Reading, 0, len(names))
	for _, name := range names {
		out = append(out, sample(name, fns[name]))
	}
	return out
}

func sample(name string, fn func() any) (r Reading) {
	r.Name = name
	defer func() {
		if v := recover(); v != nil {
			r.Value, r.Err = nil, fmt.Sprint(v)
		}
	}()
	r.Value = fn()
	return r
}

// Names returns the registered probe names in order.
func (dp *DebugProbes) Names() []string {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	names := make([]string, 0, len(dp.probes))
	for name := range dp.probes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DumpState returns every reading keyed by name. A failed probe maps to
// its error text.
func (dp *DebugProbes) DumpState() map[string]any {
	readings := dp.Read("")
	out := make(map[string]any, len(readings))
	for _, r := range readings {
		if r.Err != "" {
			out[r.Name] = "error: " + r.Err
			continue
		}
		out[r.Name] = r.Value
	}
	return out
}
