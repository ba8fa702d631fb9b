package control

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestConfigStoreListeners(t *testing.T) {
	cs := NewConfigStore()
	require.Empty(t, cs.GetSnapshot())

	var got map[string]any
	cs.OnReload(func(m map[string]any) { got = m })
	cs.SetConfig(map[string]any{"a": 1})
	cs.SetConfig(map[string]any{"b": "x"})
	require.Equal(t, map[string]any{"a": 1, "b": "x"}, got)

	got["a"] = 2
	require.Equal(t, 1, cs.GetSnapshot()["a"])
}

func TestMetricsCollectors(t *testing.T) {
	mr := NewMetricsRegistry()
	mr.Set("uptime", 5)
	var n atomic.Int64
	mr.Collect("port.phy0", func() map[string]any {
		n.Add(1)
		return map[string]any{"rx_packets": uint64(7)}
	})
	snap := mr.GetSnapshot()
	require.Equal(t, 5, snap["uptime"])
	require.Equal(t, uint64(7), snap["port.phy0.rx_packets"])
	require.Equal(t, int64(1), n.Load())
	require.False(t, mr.Updated().IsZero())
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	dp.RegisterProbe("answer", func() any { return 42 })
	state := dp.DumpState()
	require.Equal(t, 42, state["answer"])
	require.Contains(t, state, "platform.cpus")
}

func TestDebugReadingsSortedAndFiltered(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("vhost.pending_events", func() any { return 0 })
	dp.RegisterProbe("port.phy0.rx_missed", func() any { return uint64(3) })
	dp.RegisterProbe("port.phy0.bad", func() any { panic("device gone") })
	dp.RegisterProbe("port.ring0.rx_missed", func() any { return uint64(0) })

	got := dp.Read("port.")
	want := []Reading{
		{Name: "port.phy0.bad", Err: "device gone"},
		{Name: "port.phy0.rx_missed", Value: uint64(3)},
		{Name: "port.ring0.rx_missed", Value: uint64(0)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("readings mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "port.phy0.bad error: device gone", got[0].String())
	require.Equal(t, "port.phy0.rx_missed=3", got[1].String())

	require.Equal(t, "error: device gone", dp.DumpState()["port.phy0.bad"])

	dp.RegisterProbe("port.phy0.bad", nil)
	require.Equal(t, []string{"port.phy0.rx_missed", "port.ring0.rx_missed", "vhost.pending_events"}, dp.Names())
}

type echoExec struct{}

func (echoExec) Exec(args []string) (string, error) {
	if args[0] == "fail" {
		return "", errors.New("it failed")
	}
	return strings.Join(args, ","), nil
}

func TestCommandSocketRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctl.sock")
	srv := NewServer(path, echoExec{})
	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	c, err := Dial(path)
	require.NoError(t, err)
	out, err := c.Call("show", "phy0")
	require.NoError(t, err)
	require.Equal(t, "show,phy0", out)

	_, err = c.Call("fail")
	require.EqualError(t, err, "it failed")

	require.NoError(t, c.Close())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestClosedConnectionsReleaseHandlers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctl.sock")
	srv := NewServer(path, echoExec{})
	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	// Warm up so the accept loop and its watcher are counted in the baseline.
	c, err := Dial(path)
	require.NoError(t, err)
	_, err = c.Call("ping")
	require.NoError(t, err)
	require.NoError(t, c.Close())
	time.Sleep(50 * time.Millisecond)
	base := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		c, err := Dial(path)
		require.NoError(t, err)
		_, err = c.Call("show", "ports")
		require.NoError(t, err)
		require.NoError(t, c.Close())
	}
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= base+2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	var loads atomic.Int64
	var seen atomic.Value
	w := NewWatcher(path, func(p string) error {
		seen.Store(p)
		loads.Add(1)
		return nil
	})
	w.SetSettle(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("a: 2\n"), 0o644)
		return loads.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)
	require.Equal(t, path, seen.Load())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other"), []byte("x"), 0o644))
	cancel()
	require.NoError(t, <-done)
}
