// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics for system-level monitoring. Static values are set
// directly; collectors are sampled on every snapshot so packet counters are
// never copied on the data path.

package control

import (
	"sync"
	"time"
)

// Collector produces a set of metrics under its own key prefix.
type Collector func() map[string]any

// MetricsRegistry holds metric values and collectors.
type MetricsRegistry struct {
	mu         sync.RWMutex
	metrics    map[string]any
	collectors map[string]Collector
	updated    time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics:    make(map[string]any),
		collectors: make(map[string]Collector),
	}
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Collect registers fn; its keys appear as "<prefix>.<key>".
func (mr *MetricsRegistry) Collect(prefix string, fn Collector) {
	mr.mu.Lock()
	mr.collectors[prefix] = fn
	mr.mu.Unlock()
}

// Updated returns when a static value last changed.
func (mr *MetricsRegistry) Updated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	for prefix, fn := range mr.collectors {
		for k, v := range fn() {
			out[prefix+"."+k] = v
		}
	}
	return out
}
