package netdev

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/fake"
)

func TestNegotiateClampsToHardware(t *testing.T) {
	nic := fake.NewNIC(4, 4, 0)
	rxq, txq, err := NegotiateQueues(nic, nil, 8, 8)
	require.NoError(t, err)
	require.Equal(t, 4, rxq)
	require.Equal(t, 4, txq)
}

func TestNegotiateDowngradesOnPartialSetup(t *testing.T) {
	nic := fake.NewNIC(8, 8, 0)
	nic.FailTxSetupFrom(3)
	rxq, txq, err := NegotiateQueues(nic, nil, 2, 8)
	require.NoError(t, err)
	require.Equal(t, 2, rxq)
	require.Equal(t, 3, txq)
	_, configured := nic.Queues()
	require.Equal(t, 3, configured)
}

func TestNegotiateFailsWithoutQueues(t *testing.T) {
	nic := fake.NewNIC(4, 4, 0)
	nic.FailTxSetupFrom(0)
	_, _, err := NegotiateQueues(nic, nil, 1, 1)
	require.ErrorIs(t, err, api.ErrQueueSetupFailed)
}

func TestPortNegotiatesAndReportsLocking(t *testing.T) {
	env := newEnv(t, map[int]int{0: 4})
	p := env.addPort(t, "phy0", PortConfig{RxQueues: 2, TxQueues: 8})

	rxq, txq := p.Queues()
	require.Equal(t, 2, rxq)
	require.Equal(t, 4, txq)
	require.True(t, p.NeedsLocking())
	require.Equal(t, map[string]string{
		"configured_rx_queues": "2",
		"requested_tx_queues":  "8",
		"configured_tx_queues": "4",
	}, p.Config())
	require.True(t, env.nics[0].Started())
	require.True(t, env.nics[0].Promisc())
}
