// File: netdev/watchdog.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netdev

import (
	"context"
	"time"
)

// DefaultWatchdogInterval is the link polling period.
const DefaultWatchdogInterval = 5 * time.Second

// RunWatchdog polls the link state of every physical and ring port each
// interval until ctx is done. A change bumps the port's flap counter and
// logs one line.
func (r *Registry) RunWatchdog(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.CheckLinks()
		}
	}
}

// CheckLinks runs one watchdog pass.
func (r *Registry) CheckLinks() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.ports {
		if p.eth == nil {
			continue
		}
		p.mu.Lock()
		p.checkLinkStatus()
		p.mu.Unlock()
	}
}
