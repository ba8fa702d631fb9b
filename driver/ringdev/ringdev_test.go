package ringdev

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dp/pool"
)

func newPool(t *testing.T) *pool.Mempool {
	t.Helper()
	mp, err := pool.New(pool.Config{Name: "ringdev_test", Count: 16, EltSize: 256, Allocator: pool.HeapAllocator{}})
	require.NoError(t, err)
	return mp
}

func TestRingDeviceRoundTrip(t *testing.T) {
	mp := newPool(t)
	d := New("ring0", 4)
	require.Equal(t, "ring", d.Info().Driver)
	require.Error(t, d.Configure(2, 1))
	require.NoError(t, d.Configure(1, 1))
	require.False(t, d.LinkStatus().Up)

	m, err := mp.Get()
	require.NoError(t, err)
	require.Zero(t, d.TxBurst(0, []*pool.Mbuf{m}), "stopped device must not transmit")

	require.NoError(t, d.Start())
	require.True(t, d.LinkStatus().Up)
	require.Equal(t, 1, d.TxBurst(0, []*pool.Mbuf{m}))

	out := make([]*pool.Mbuf, 4)
	require.Equal(t, 1, d.Recv(out))
	require.Same(t, m, out[0])

	require.Equal(t, 1, d.Inject(out[:1]))
	require.Equal(t, 1, d.RxBurst(0, out))
	out[0].Release()
	require.Equal(t, 16, mp.Count())
}

func TestRingDeviceBackpressure(t *testing.T) {
	mp := newPool(t)
	d := New("ring1", 4)
	require.NoError(t, d.Start())
	pkts := make([]*pool.Mbuf, 6)
	require.NoError(t, mp.GetBulk(pkts))
	require.Equal(t, 4, d.TxBurst(0, pkts))
	tx, rx := d.Pending()
	require.Equal(t, 4, tx)
	require.Zero(t, rx)
}
