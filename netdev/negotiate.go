// File: netdev/negotiate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netdev

import (
	"fmt"

	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/ethdev"
	"github.com/momentics/hioload-dp/internal/log"
	"github.com/momentics/hioload-dp/pool"
)

// NegotiateQueues configures dev with at most nRxq rx and nTxq tx queues,
// first clamped to the hardware maxima. Some NICs reserve queues for other
// consumers, so a queue setup may fail partway: the count then drops to the
// number of queues that did set up and the whole configuration is retried.
// The counts only ever go down. Reaching zero fails with ErrQueueSetupFailed.
func NegotiateQueues(dev ethdev.EthDev, mp *pool.Mempool, nRxq, nTxq int) (rxq, txq int, err error) {
	info := dev.Info()
	if info.MaxRxQueues > 0 && nRxq > info.MaxRxQueues {
		nRxq = info.MaxRxQueues
	}
	if info.MaxTxQueues > 0 && nTxq > info.MaxTxQueues {
		nTxq = info.MaxTxQueues
	}

	var lastErr error
	for nRxq > 0 && nTxq > 0 {
		if err := dev.Configure(nRxq, nTxq); err != nil {
			return 0, 0, fmt.Errorf("%w: configure %d rx / %d tx: %w", api.ErrQueueSetupFailed, nRxq, nTxq, err)
		}

		i := 0
		for ; i < nTxq; i++ {
			if lastErr = dev.SetupTxQueue(i, ethdev.DefaultRingDesc); lastErr != nil {
				break
			}
		}
		if i != nTxq {
			log.Debugf("tx queue %d setup failed (%v), retrying with %d tx queues", i, lastErr, i)
			nTxq = i
			continue
		}

		for i = 0; i < nRxq; i++ {
			if lastErr = dev.SetupRxQueue(i, ethdev.DefaultRingDesc, mp); lastErr != nil {
				break
			}
		}
		if i != nRxq {
			log.Debugf("rx queue %d setup failed (%v), retrying with %d rx queues", i, lastErr, i)
			nRxq = i
			continue
		}
		return nRxq, nTxq, nil
	}
	if lastErr == nil {
		return 0, 0, fmt.Errorf("%w: no queues", api.ErrQueueSetupFailed)
	}
	return 0, 0, fmt.Errorf("%w: %w", api.ErrQueueSetupFailed, lastErr)
}
