// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the device contracts.

package fake

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-dp/ethdev"
	"github.com/momentics/hioload-dp/pool"
)

var (
	_ ethdev.EthDev        = (*NIC)(nil)
	_ ethdev.StatsReporter = (*NIC)(nil)
)

// NIC is a scriptable multi-queue device. Transmitted buffers are kept
// until Drain; received buffers are fed through Inject.
type NIC struct {
	mu sync.Mutex

	info       ethdev.DevInfo
	nRxq, nTxq int
	started    bool
	promisc    bool
	link       ethdev.LinkStatus

	failTxSetupFrom int // SetupTxQueue fails for qid >= this, -1 disables
	txBudget        int // buffers accepted per TxBurst call, -1 unlimited
	txBudgetCalls   []int

	sent    [][]*pool.Mbuf // per tx queue
	txCalls int
	stopped int // bursts issued while the device was stopped
	rx      [][]*pool.Mbuf // per rx queue
	hw      ethdev.HWStats
}

// NewNIC creates a device with the given queue limits on NUMA node node.
func NewNIC(maxRxq, maxTxq, node int) *NIC {
	return &NIC{
		info: ethdev.DevInfo{
			Driver:      "fake",
			MaxRxQueues: maxRxq,
			MaxTxQueues: maxTxq,
			MaxRxPktLen: 9728,
			Node:        node,
		},
		link:            ethdev.LinkStatus{Up: true, SpeedMbps: 10000, FullDuplex: true},
		failTxSetupFrom: -1,
		txBudget:        -1,
	}
}

// FailTxSetupFrom makes SetupTxQueue fail for every qid >= qid.
func (n *NIC) FailTxSetupFrom(qid int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failTxSetupFrom = qid
}

// SetTxBudget limits how many buffers each TxBurst accepts. budgets are
// consumed one per call; after that every call accepts perCall. A
// negative perCall accepts everything.
func (n *NIC) SetTxBudget(perCall int, budgets ...int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.txBudget = perCall
	n.txBudgetCalls = budgets
}

// SetLink changes the link state reported to the watchdog.
func (n *NIC) SetLink(up bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.link.Up = up
}

// SetHWStats sets the hardware counters.
func (n *NIC) SetHWStats(st ethdev.HWStats) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hw = st
}

func (n *NIC) Info() ethdev.DevInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.info
}

func (n *NIC) Configure(nRxq, nTxq int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if nRxq > n.info.MaxRxQueues || nTxq > n.info.MaxTxQueues {
		return fmt.Errorf("fake: %d rx / %d tx queues above limits", nRxq, nTxq)
	}
	n.nRxq, n.nTxq = nRxq, nTxq
	n.sent = make([][]*pool.Mbuf, nTxq)
	n.rx = make([][]*pool.Mbuf, nRxq)
	return nil
}

func (n *NIC) SetupTxQueue(qid, _ int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failTxSetupFrom >= 0 && qid >= n.failTxSetupFrom {
		return fmt.Errorf("fake: tx queue %d setup refused", qid)
	}
	return nil
}

func (n *NIC) SetupRxQueue(int, int, *pool.Mempool) error { return nil }

func (n *NIC) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = true
	return nil
}

func (n *NIC) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = false
}

func (n *NIC) SetPromisc(on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.promisc = on
}

func (n *NIC) LinkStatus() ethdev.LinkStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		return ethdev.LinkStatus{}
	}
	return n.link
}

func (n *NIC) RxBurst(qid int, pkts []*pool.Mbuf) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		n.stopped++
	}
	if qid >= len(n.rx) {
		return 0
	}
	c := copy(pkts, n.rx[qid])
	n.rx[qid] = n.rx[qid][c:]
	return c
}

func (n *NIC) TxBurst(qid int, pkts []*pool.Mbuf) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.txCalls++
	if !n.started {
		n.stopped++
	}
	budget := n.txBudget
	if len(n.txBudgetCalls) > 0 {
		budget = n.txBudgetCalls[0]
		n.txBudgetCalls = n.txBudgetCalls[1:]
	}
	c := len(pkts)
	if budget >= 0 && c > budget {
		c = budget
	}
	n.sent[qid] = append(n.sent[qid], pkts[:c]...)
	return c
}

func (n *NIC) HWStats() ethdev.HWStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hw
}

// Inject queues buffers for RxBurst on queue qid.
func (n *NIC) Inject(qid int, pkts ...*pool.Mbuf) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rx[qid] = append(n.rx[qid], pkts...)
}

// Sent returns the number of buffers transmitted on queue qid.
func (n *NIC) Sent(qid int) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if qid >= len(n.sent) {
		return 0
	}
	return len(n.sent[qid])
}

// TotalSent returns the number of buffers transmitted on all queues.
func (n *NIC) TotalSent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, q := range n.sent {
		total += len(q)
	}
	return total
}

// TxCalls returns how many times TxBurst was called.
func (n *NIC) TxCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.txCalls
}

// StoppedBursts returns how many RxBurst and TxBurst calls reached the
// device while it was stopped.
func (n *NIC) StoppedBursts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stopped
}

// Queues returns the configured rx and tx queue counts.
func (n *NIC) Queues() (rxq, txq int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nRxq, n.nTxq
}

// Started reports whether the device is started.
func (n *NIC) Started() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started
}

// Promisc reports the promiscuous flag.
func (n *NIC) Promisc() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.promisc
}

// Drain releases every transmitted buffer back to its pool.
func (n *NIC) Drain() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for i, q := range n.sent {
		pool.FreeBulk(q)
		total += len(q)
		n.sent[i] = nil
	}
	return total
}
