package netdev

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/fake"
	"github.com/momentics/hioload-dp/pool"
)

func TestVhostSendWithoutGuestDrops(t *testing.T) {
	env := newEnv(t, nil)
	p := env.addPort(t, "vhost0", PortConfig{})
	require.Equal(t, -1, p.PortNo())
	require.Equal(t, VhostDetached, p.VhostState())
	mp := p.Pool()
	free := mp.Count()

	p.Send(0, frames(t, mp, 8, 64), true)
	require.Equal(t, free, mp.Count())
	require.Equal(t, uint64(8), p.Stats().TxDropped)
	require.False(t, p.Carrier())
}

func TestVhostAttachDetachReattach(t *testing.T) {
	env := newEnv(t, nil)
	p := env.addPort(t, "vhost0", PortConfig{})
	mp := p.Pool()
	free := mp.Count()

	_, err := env.reg.AttachVhost(fake.NewVirtio("vhost9", 64))
	require.ErrorIs(t, err, api.ErrNoSuchPort)

	guest := fake.NewVirtio("vhost0", 64)
	s, err := env.reg.AttachVhost(guest)
	require.NoError(t, err)
	require.Same(t, s, p.Session())
	require.Equal(t, VhostRunning, p.VhostState())
	require.True(t, p.Carrier())

	_, err = env.reg.AttachVhost(fake.NewVirtio("vhost0", 64))
	require.ErrorIs(t, err, api.ErrAlreadyExists)

	p.Send(0, frames(t, mp, 10, 64), true)
	require.Equal(t, 10, guest.Received())
	require.Equal(t, free, mp.Count())
	require.Equal(t, uint64(10), p.Stats().TxPackets)

	require.NoError(t, env.reg.DetachVhost(context.Background(), guest))
	require.Nil(t, p.Session())
	require.Equal(t, VhostDetached, p.VhostState())
	require.ErrorIs(t, env.reg.DetachVhost(context.Background(), guest), api.ErrNoSuchPort)

	p.Send(0, frames(t, mp, 4, 64), true)
	require.Equal(t, 10, guest.Received())
	require.Equal(t, uint64(4), p.Stats().TxDropped)

	again := fake.NewVirtio("vhost0", 64)
	s2, err := env.reg.AttachVhost(again)
	require.NoError(t, err)
	require.NotEqual(t, s.ID, s2.ID)
	p.Send(0, frames(t, mp, 3, 64), true)
	require.Equal(t, 3, again.Received())
}

func TestVhostReceive(t *testing.T) {
	env := newEnv(t, nil)
	p := env.addPort(t, "vhost0", PortConfig{})
	guest := fake.NewVirtio("vhost0", 64)
	buf := make([]*pool.Mbuf, MaxBurst)
	guest.Transmit(make([]byte, 60))
	require.Zero(t, p.Receive(0, 0, buf), "detached port must not receive")

	_, err := env.reg.AttachVhost(guest)
	require.NoError(t, err)
	guest.Transmit(make([]byte, 60))
	require.Equal(t, 2, p.Receive(0, 0, buf))
	require.Equal(t, uint64(2), p.Stats().RxPackets)
	pool.FreeBulk(buf[:2])
}

func TestVhostSendersSerializeOnSingleQueue(t *testing.T) {
	env := newEnv(t, nil, WithPollThreads(2))
	p := env.addPort(t, "vhost0", PortConfig{TxQueues: 1})
	require.True(t, p.NeedsLocking())
	guest := fake.NewVirtio("vhost0", 512)
	_, err := env.reg.AttachVhost(guest)
	require.NoError(t, err)

	const perCore = 100
	batches := [][]*pool.Mbuf{frames(t, p.Pool(), perCore, 64), frames(t, p.Pool(), perCore, 64)}
	var wg sync.WaitGroup
	for core := range batches {
		wg.Add(1)
		go func(core int) {
			defer wg.Done()
			for _, m := range batches[core] {
				p.Send(core, []*pool.Mbuf{m}, true)
			}
		}(core)
	}
	wg.Wait()
	require.Equal(t, 2*perCore, guest.Received())
	require.Equal(t, uint64(2*perCore), p.Stats().TxPackets)
}

func TestVhostFullRingTimesOut(t *testing.T) {
	env := newEnv(t, nil, WithVhostRetry(time.Millisecond))
	p := env.addPort(t, "vhost0", PortConfig{})
	guest := fake.NewVirtio("vhost0", 4)
	_, err := env.reg.AttachVhost(guest)
	require.NoError(t, err)
	mp := p.Pool()
	free := mp.Count()

	p.Send(0, frames(t, mp, 10, 64), true)
	require.Equal(t, 4, guest.Received())
	require.Equal(t, free, mp.Count())
	st := p.Stats()
	require.Equal(t, uint64(4), st.TxPackets)
	require.Equal(t, uint64(6), st.TxDropped)
	require.Equal(t, uint64(6), st.TxTimeoutDrops)
}

// Poll threads keep sending while the guest detaches. Once DetachVhost has
// returned the guest is torn down and must never be called again.
func TestVhostDetachWaitsForPollThreads(t *testing.T) {
	env := newEnv(t, nil)
	p := env.addPort(t, "vhost0", PortConfig{})
	guest := fake.NewVirtio("vhost0", 1<<20)
	_, err := env.reg.AttachVhost(guest)
	require.NoError(t, err)
	mp := p.Pool()

	var (
		stop  atomic.Bool
		loops atomic.Int64
		wg    sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		rd := env.reg.QSBR().Register()
		wg.Add(1)
		go func(qid int) {
			defer wg.Done()
			defer rd.Unregister()
			for !stop.Load() {
				if m, err := mp.Get(); err == nil {
					_ = m.SetData(make([]byte, 64))
					p.Send(qid, []*pool.Mbuf{m}, true)
				}
				guest.Consume()
				loops.Add(1)
				rd.Quiescent()
			}
		}(i)
	}

	for loops.Load() < 1000 {
		time.Sleep(time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.reg.DetachVhost(ctx, guest))
	guest.Close()

	after := loops.Load()
	for loops.Load() < after+1000 {
		time.Sleep(time.Millisecond)
	}
	stop.Store(true)
	wg.Wait()

	require.Zero(t, guest.Late())
	require.Nil(t, p.Session())
}

func TestVhostEventsApplyInOrder(t *testing.T) {
	env := newEnv(t, nil)
	p := env.addPort(t, "vhost0", PortConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.reg.RunVhostEvents(ctx) }()

	guest := fake.NewVirtio("vhost0", 8)
	require.NoError(t, <-env.reg.PostVhostEvent(VhostNewDevice, guest))
	require.NotNil(t, p.Session())
	require.ErrorIs(t, <-env.reg.PostVhostEvent(VhostNewDevice, fake.NewVirtio("nope", 8)), api.ErrNoSuchPort)
	require.NoError(t, <-env.reg.PostVhostEvent(VhostDestroyDevice, guest))
	require.Nil(t, p.Session())
	require.Zero(t, env.reg.PendingVhostEvents())

	cancel()
	require.NoError(t, <-done)
}
