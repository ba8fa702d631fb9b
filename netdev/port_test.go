package netdev

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/ethdev"
	"github.com/momentics/hioload-dp/fake"
	"github.com/momentics/hioload-dp/pool"
)

func TestAddPortRejectsDuplicates(t *testing.T) {
	env := newEnv(t, map[int]int{0: 1})
	env.addPort(t, "phy0", PortConfig{})
	_, err := env.reg.AddPort("phy0", PortConfig{})
	require.ErrorIs(t, err, api.ErrAlreadyExists)
	_, err = env.reg.AddPort("phy0x0", PortConfig{})
	require.ErrorIs(t, err, api.ErrAlreadyExists)
	_, err = env.reg.AddPort("eth0", PortConfig{})
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestPhysicalPortNeedsDriver(t *testing.T) {
	reg := NewRegistry(WithPools(fake.SmallPools(64)))
	defer reg.Close()
	_, err := reg.AddPort("phy0", PortConfig{})
	require.ErrorIs(t, err, api.ErrNotSupported)
}

func TestPortsSharePools(t *testing.T) {
	env := newEnv(t, map[int]int{0: 1, 1: 1})
	a := env.addPort(t, "phy0", PortConfig{})
	b := env.addPort(t, "phy1", PortConfig{})
	require.Same(t, a.Pool(), b.Pool())
	require.Equal(t, 2, env.reg.Pools().Refcount(a.Pool()))
	require.Equal(t, pool.EltSizeForMTU(DefaultMTU), a.Pool().EltSize())
}

// A physical port with four tx queues is patched to a vhost port. One
// received burst of 32 packets reaches the guest and is counted on both sides.
func TestForwardPhysicalToVhost(t *testing.T) {
	env := newEnv(t, map[int]int{0: 4})
	a := env.addPort(t, "phy0", PortConfig{TxQueues: 4})
	b := env.addPort(t, "vhost0", PortConfig{})
	guest := fake.NewVirtio("vhost0", 256)
	_, err := env.reg.AttachVhost(guest)
	require.NoError(t, err)
	require.NoError(t, env.reg.SetPeer("phy0", "vhost0"))
	require.Same(t, b, a.Peer())

	mp := a.Pool()
	free := mp.Count()
	env.nics[0].Inject(0, frames(t, mp, 32, 64)...)

	buf := make([]*pool.Mbuf, MaxBurst)
	require.Zero(t, a.Receive(0, 0, buf))
	require.Equal(t, 32, guest.Received())
	require.Equal(t, free, mp.Count())

	sa, sb := a.Stats(), b.Stats()
	require.Equal(t, uint64(32), sa.RxPackets)
	require.Equal(t, uint64(32*64), sa.RxBytes)
	require.Equal(t, uint64(16), sa.Multicast)
	require.Equal(t, uint64(32), sb.TxPackets)
	require.Zero(t, sb.TxDropped)

	require.NoError(t, env.reg.ClearPeer("phy0"))
	require.Nil(t, a.Peer())
	require.ErrorIs(t, env.reg.SetPeer("phy0", "phy0"), api.ErrInvalidArgument)
	require.ErrorIs(t, env.reg.SetPeer("phy0", "vhost7"), api.ErrDeviceNotFound)
}

func TestReceiveClassifiesEveryPacket(t *testing.T) {
	cls := api.ClassifierFunc(func(pkt []byte) int32 { return int32(len(pkt)) })
	env := newEnv(t, map[int]int{3: 1}, WithClassifier(cls))
	p := env.addPort(t, "phy3", PortConfig{})
	mp := p.Pool()
	pkts := frames(t, mp, 3, 10)
	env.nics[3].Inject(0, pkts...)

	buf := make([]*pool.Mbuf, MaxBurst)
	n := p.Receive(0, 0, buf)
	require.Equal(t, 3, n)
	for _, m := range buf[:n] {
		require.Equal(t, int32(10), m.FlowID)
		require.Equal(t, uint16(3), m.Port)
	}
	st := p.Stats()
	require.Equal(t, uint64(3), st.RxLengthErrors)
	require.Equal(t, uint64(3), st.RxErrors)
	pool.FreeBulk(buf[:n])
}

func TestStatsMergeHardwareCounters(t *testing.T) {
	env := newEnv(t, map[int]int{0: 1})
	p := env.addPort(t, "phy0", PortConfig{})
	env.nics[0].SetHWStats(ethdev.HWStats{RxMissed: 7, RxErrors: 2, TxErrors: 1})
	want := Stats{RxDropped: 7, RxErrors: 2, TxErrors: 1}
	if diff := cmp.Diff(want, p.Stats()); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestWatchdogCountsFlaps(t *testing.T) {
	env := newEnv(t, map[int]int{0: 1})
	p := env.addPort(t, "phy0", PortConfig{})
	env.addPort(t, "vhost0", PortConfig{})
	nic := env.nics[0]
	require.True(t, p.Carrier())

	env.reg.CheckLinks()
	require.Zero(t, p.LinkResets())

	nic.SetLink(false)
	env.reg.CheckLinks()
	require.Equal(t, uint64(1), p.LinkResets())
	require.False(t, p.Carrier())

	nic.SetLink(true)
	env.reg.CheckLinks()
	require.Equal(t, uint64(2), p.LinkResets())
	require.Equal(t, uint64(2), p.Stats().CarrierResets)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.reg.RunWatchdog(ctx, time.Millisecond) }()
	nic.SetLink(false)
	require.Eventually(t, func() bool { return p.LinkResets() == 3 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestAdminState(t *testing.T) {
	env := newEnv(t, map[int]int{0: 1, 1: 1})
	a := env.addPort(t, "phy0", PortConfig{})
	b := env.addPort(t, "phy1", PortConfig{})
	require.Equal(t, FlagUp|FlagPromisc, a.Flags())

	require.NoError(t, env.reg.SetAdminState("phy0", false))
	require.Zero(t, a.Flags()&FlagUp)
	require.False(t, env.nics[0].Started())
	require.True(t, env.nics[1].Started())

	out, err := env.reg.ExecSetAdminState([]string{"DOWN"})
	require.NoError(t, err)
	require.Equal(t, "OK", out)
	require.False(t, env.nics[1].Started())
	require.Zero(t, b.Flags()&FlagUp)

	out, err = env.reg.ExecSetAdminState([]string{"phy0", "Up"})
	require.NoError(t, err)
	require.Equal(t, "OK", out)
	require.True(t, env.nics[0].Started())

	err = env.reg.SetAdminState("phy9", true)
	require.ErrorIs(t, err, api.ErrDeviceNotFound)
	require.Contains(t, err.Error(), `unknown device "phy9"`)

	_, err = env.reg.ExecSetAdminState([]string{"sideways"})
	require.ErrorIs(t, err, api.ErrInvalidArgument)
	require.Contains(t, err.Error(), `invalid admin state "sideways"`)
	_, err = env.reg.ExecSetAdminState(nil)
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestAdminDownWaitsForPollThreads(t *testing.T) {
	env := newEnv(t, map[int]int{0: 1})
	p := env.addPort(t, "phy0", PortConfig{})
	nic := env.nics[0]
	mp := p.Pool()

	rd := env.reg.QSBR().Register()
	var stop atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer rd.Unregister()
		buf := make([]*pool.Mbuf, MaxBurst)
		for !stop.Load() {
			if n := p.Receive(0, 0, buf); n > 0 {
				pool.FreeBulk(buf[:n])
			}
			if m, err := mp.Get(); err == nil {
				p.Send(0, []*pool.Mbuf{m}, true)
			}
			p.FlushTx(0)
			nic.Drain()
			rd.Quiescent()
		}
		rd.Offline()
	}()

	for i := 0; i < 50; i++ {
		require.NoError(t, env.reg.SetAdminState("phy0", false))
		require.False(t, nic.Started())
		require.NoError(t, env.reg.SetAdminState("phy0", true))
	}
	require.Eventually(t, func() bool { return p.Stats().TxPackets > 0 }, 2*time.Second, time.Millisecond)
	stop.Store(true)
	<-done

	require.Zero(t, nic.StoppedBursts())
	require.True(t, nic.Started())
}

func TestAdminDownDropsSends(t *testing.T) {
	env := newEnv(t, map[int]int{0: 1})
	p := env.addPort(t, "phy0", PortConfig{})
	mp := p.Pool()
	free := mp.Count()

	require.NoError(t, env.reg.SetAdminState("phy0", false))
	p.Send(0, frames(t, mp, 4, 64), true)
	p.FlushTx(0)
	require.Zero(t, env.nics[0].TxCalls())
	require.Equal(t, uint64(4), p.Stats().TxDropped)
	require.Equal(t, free, mp.Count())

	buf := make([]*pool.Mbuf, MaxBurst)
	require.Zero(t, p.Receive(0, 0, buf))
	require.Zero(t, env.nics[0].StoppedBursts())

	// Reconfiguring a downed port must not start the device.
	require.NoError(t, p.SetMTU(9000))
	require.False(t, env.nics[0].Started())
}

func TestUpdateFlags(t *testing.T) {
	env := newEnv(t, map[int]int{0: 1})
	p := env.addPort(t, "phy0", PortConfig{})
	old, err := p.UpdateFlags(FlagPromisc, 0)
	require.NoError(t, err)
	require.Equal(t, FlagUp|FlagPromisc, old)
	require.False(t, env.nics[0].Promisc())
	_, err = p.UpdateFlags(0, Flags(1<<5))
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestSetMTUSwapsPool(t *testing.T) {
	env := newEnv(t, map[int]int{0: 1})
	p := env.addPort(t, "phy0", PortConfig{})
	old := p.Pool()

	require.NoError(t, p.SetMTU(9000))
	require.Equal(t, 9000, p.MTU())
	require.Equal(t, pool.EltSizeForMTU(9000), p.Pool().EltSize())
	require.Zero(t, env.reg.Pools().Refcount(old))
	require.Equal(t, 1, env.reg.Pools().Refcount(p.Pool()))

	big := frames(t, p.Pool(), 1, 9000)
	p.Send(0, big, true)
	require.Equal(t, 1, p.txQueueLen(0))
	require.Zero(t, p.Stats().TxOversizeDrops)

	require.ErrorIs(t, p.SetMTU(0), api.ErrInvalidArgument)
}

func TestSetMTUKeepsOldPoolOnOOM(t *testing.T) {
	budget := int64(2 * 64 * pool.EltSizeForMTU(DefaultMTU))
	env := newEnv(t, map[int]int{0: 1}, WithPools(fake.BudgetPools(64, budget)))
	p := env.addPort(t, "phy0", PortConfig{})
	old := p.Pool()

	require.ErrorIs(t, p.SetMTU(9000), api.ErrOutOfMemory)
	require.Equal(t, DefaultMTU, p.MTU())
	require.Equal(t, old, p.Pool())
	require.Equal(t, 1, env.reg.Pools().Refcount(old))
	require.Equal(t, 1, env.reg.Pools().Len())
}

func TestSetMultiq(t *testing.T) {
	env := newEnv(t, map[int]int{0: 4})
	p := env.addPort(t, "phy0", PortConfig{})

	require.NoError(t, p.SetMultiq(2, 2))
	rxq, txq := p.Queues()
	require.Equal(t, 2, rxq)
	require.Equal(t, 2, txq)
	require.False(t, p.NeedsLocking())

	require.NoError(t, p.SetMultiq(8, 1))
	rxq, txq = p.Queues()
	require.Equal(t, 1, rxq)
	require.Equal(t, 4, txq)
	require.True(t, p.NeedsLocking())
	reqRx, reqTx := p.RequestedQueues()
	require.Equal(t, 1, reqRx)
	require.Equal(t, 8, reqTx)

	require.ErrorIs(t, p.SetMultiq(0, 1), api.ErrInvalidArgument)
}

func TestSetMultiqVhostStaysSingleQueue(t *testing.T) {
	env := newEnv(t, nil)
	p := env.addPort(t, "vhost0", PortConfig{})
	require.NoError(t, p.SetMultiq(4, 4))
	rxq, txq := p.Queues()
	require.Equal(t, 1, rxq)
	require.Equal(t, 1, txq)
	require.True(t, p.NeedsLocking())
}

func TestRemovePort(t *testing.T) {
	env := newEnv(t, map[int]int{0: 1})
	env.addPort(t, "phy0", PortConfig{})
	v := env.addPort(t, "vhost0", PortConfig{})
	shared := v.Pool()
	require.Equal(t, 2, env.reg.Pools().Refcount(shared))
	require.NoError(t, env.reg.SetPeer("phy0", "vhost0"))
	guest := fake.NewVirtio("vhost0", 8)
	_, err := env.reg.AttachVhost(guest)
	require.NoError(t, err)

	require.ErrorIs(t, env.reg.RemovePort("vhost0"), api.ErrBusy)
	require.NoError(t, env.reg.DetachVhost(context.Background(), guest))
	require.NoError(t, env.reg.RemovePort("vhost0"))
	require.Equal(t, 1, env.reg.Pools().Refcount(shared))

	a, err := env.reg.Port("phy0")
	require.NoError(t, err)
	require.Nil(t, a.Peer())
	require.ErrorIs(t, env.reg.RemovePort("vhost0"), api.ErrDeviceNotFound)
	require.Len(t, env.reg.Ports(), 1)
}

func TestRingPort(t *testing.T) {
	env := newEnv(t, nil, WithTopology(fake.Topology{CPUNodes: []int{1}}))
	p := env.addPort(t, "ring0", PortConfig{})
	dev, err := env.reg.RingDevice(0)
	require.NoError(t, err)
	_, err = env.reg.RingDevice(1)
	require.ErrorIs(t, err, api.ErrDeviceNotFound)
	require.Equal(t, "ring", p.Status()["driver_name"])

	mp := p.Pool()
	pkts := frames(t, mp, 5, 64)
	for _, m := range pkts {
		m.Hash = 0xdead
	}
	p.Send(0, pkts, true)

	out := make([]*pool.Mbuf, 8)
	n := dev.Recv(out)
	require.Equal(t, 5, n)
	for _, m := range out[:n] {
		require.Zero(t, m.Hash)
	}
	require.Equal(t, 5, dev.Inject(out[:n]))
	buf := make([]*pool.Mbuf, MaxBurst)
	require.Equal(t, 5, p.Receive(0, 0, buf))
	pool.FreeBulk(buf[:5])

	require.NoError(t, env.reg.RemovePort("ring0"))
	again := env.addPort(t, "ring0", PortConfig{})
	dev2, err := env.reg.RingDevice(0)
	require.NoError(t, err)
	require.Same(t, dev, dev2)
	require.True(t, again.Carrier())
}
