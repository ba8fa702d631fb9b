package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dp/api"
)

func TestAlignPow2(t *testing.T) {
	for in, want := range map[uint32]uint32{0: 1, 1: 1, 2: 2, 3: 4, 255: 256, 257: 512} {
		require.Equal(t, want, AlignPow2(in), "AlignPow2(%d)", in)
	}
}

func TestRingBulkAllOrNothing(t *testing.T) {
	r := NewRing[int]("r", 4, 0)
	require.Equal(t, 4, r.Cap())
	require.NoError(t, r.EnqueueBulk([]int{1, 2, 3}))
	require.ErrorIs(t, r.EnqueueBulk([]int{4, 5}), api.ErrFull)
	require.Equal(t, 3, r.Len())

	out := make([]int, 4)
	require.ErrorIs(t, r.DequeueBulk(out), api.ErrInsufficient)
	require.Equal(t, 3, r.Len())

	require.NoError(t, r.DequeueBulk(out[:3]))
	require.Equal(t, []int{1, 2, 3}, out[:3])
	require.Equal(t, 0, r.Len())
}

func TestRingBurstPartial(t *testing.T) {
	r := NewRing[int]("r", 4, RingSP|RingSC)
	require.Equal(t, 4, r.EnqueueBurst([]int{1, 2, 3, 4, 5, 6}))
	require.Equal(t, 0, r.EnqueueBurst([]int{7}))
	require.Equal(t, 0, r.Free())

	out := make([]int, 8)
	require.Equal(t, 4, r.DequeueBurst(out))
	require.Equal(t, []int{1, 2, 3, 4}, out[:4])
	require.Equal(t, 0, r.DequeueBurst(out))
}

func TestRingWrapAround(t *testing.T) {
	r := NewRing[int]("r", 3, RingSP|RingSC)
	out := make([]int, 2)
	for i := 0; i < 1000; i++ {
		require.NoError(t, r.EnqueueBulk([]int{i, i + 1}))
		require.NoError(t, r.DequeueBulk(out))
		require.Equal(t, []int{i, i + 1}, out)
	}
}

func TestRing_MPMC(t *testing.T) {
	r := NewRing[int]("mpmc", 1024, 0)
	producers := 8
	consumers := 8
	itemsPerProducer := 5000
	burst := 4

	var wg sync.WaitGroup
	var sentSum, receivedSum, receivedCount int64
	totalItems := int64(producers * itemsPerProducer)

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			batch := make([]int, burst)
			for i := 0; i < itemsPerProducer; i += burst {
				for j := range batch {
					batch[j] = pid*itemsPerProducer + i + j + 1
				}
				for r.EnqueueBulk(batch) != nil {
					runtime.Gosched()
				}
				for _, v := range batch {
					atomic.AddInt64(&sentSum, int64(v))
				}
			}
		}(p)
	}

	consumerWg := sync.WaitGroup{}
	for c := 0; c < consumers; c++ {
		consumerWg.Add(1)
		go func() {
			defer consumerWg.Done()
			out := make([]int, burst)
			for {
				if r.DequeueBulk(out) == nil {
					for _, v := range out {
						atomic.AddInt64(&receivedSum, int64(v))
					}
					if atomic.AddInt64(&receivedCount, int64(burst)) >= totalItems {
						return
					}
				} else {
					if atomic.LoadInt64(&receivedCount) >= totalItems {
						return
					}
					runtime.Gosched()
				}
			}
		}()
	}

	wg.Wait()
	done := make(chan struct{})
	go func() {
		consumerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if sentSum != receivedSum {
			t.Errorf("Checksum mismatch: sent %d, received %d", sentSum, receivedSum)
		}
	case <-time.After(10 * time.Second):
		t.Errorf("Timeout waiting for consumers. Received %d/%d", atomic.LoadInt64(&receivedCount), totalItems)
	}
}

func TestSpinLockMutualExclusion(t *testing.T) {
	var l SpinLock
	counter := 0
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				l.Lock()
				counter++
				l.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 8000, counter)
	require.True(t, l.TryLock())
	require.False(t, l.TryLock())
	l.Unlock()
}
