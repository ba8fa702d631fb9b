package netdev

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dp/ethdev"
	"github.com/momentics/hioload-dp/fake"
	"github.com/momentics/hioload-dp/pool"
)

type testClock struct{ now atomic.Int64 }

func (c *testClock) Now() int64              { return c.now.Load() }
func (c *testClock) Advance(d time.Duration) { c.now.Add(int64(d)) }

type testEnv struct {
	reg   *Registry
	nics  map[int]*fake.NIC
	clock *testClock
}

// newEnv builds a registry whose physical ports are fake NICs with the
// given tx queue limits, all on node 0.
func newEnv(t *testing.T, maxTxq map[int]int, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{nics: map[int]*fake.NIC{}, clock: &testClock{}}
	for no, n := range maxTxq {
		env.nics[no] = fake.NewNIC(4, n, 0)
	}
	base := []Option{
		WithDriver(ethdev.DriverFunc(func(portNo int) (ethdev.EthDev, error) {
			return env.nics[portNo], nil
		})),
		WithPools(fake.SmallPools(1024)),
		WithTopology(fake.Topology{}),
		WithClock(env.clock.Now),
	}
	env.reg = NewRegistry(append(base, opts...)...)
	t.Cleanup(env.reg.Close)
	return env
}

func (e *testEnv) addPort(t *testing.T, name string, cfg PortConfig) *Port {
	t.Helper()
	p, err := e.reg.AddPort(name, cfg)
	require.NoError(t, err)
	return p
}

func frames(t *testing.T, mp *pool.Mempool, n, size int) []*pool.Mbuf {
	t.Helper()
	pkts, err := fake.Frames(mp, n, size)
	require.NoError(t, err)
	return pkts
}
