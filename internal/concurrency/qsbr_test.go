package concurrency

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSynchronizeWithoutReaders(t *testing.T) {
	q := NewQSBR()
	require.NoError(t, q.Synchronize(context.Background()))
}

func TestSynchronizeWaitsForQuiescence(t *testing.T) {
	q := NewQSBR()
	r := q.Register()

	done := make(chan error, 1)
	go func() { done <- q.Synchronize(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Synchronize returned before the reader was quiescent")
	case <-time.After(20 * time.Millisecond):
	}

	r.Quiescent()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Synchronize did not return after quiescence")
	}
}

func TestOfflineReaderDoesNotBlock(t *testing.T) {
	q := NewQSBR()
	r := q.Register()
	r.Offline()
	require.NoError(t, q.Synchronize(context.Background()))
	r.Online()
	r.Unregister()
	require.Equal(t, 0, q.Readers())
	require.NoError(t, q.Synchronize(context.Background()))
}

func TestSynchronizeHonorsContext(t *testing.T) {
	q := NewQSBR()
	q.Register()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Synchronize(ctx), context.DeadlineExceeded)
}

// A reader that loaded the old pointer before the swap must be done with it
// once Synchronize returns.
func TestSynchronizeProtectsRetiredPointer(t *testing.T) {
	type obj struct{ alive atomic.Bool }
	q := NewQSBR()
	var cur atomic.Pointer[obj]
	first := &obj{}
	first.alive.Store(true)
	cur.Store(first)

	stop := make(chan struct{})
	var violations atomic.Int64
	readerDone := make(chan struct{})
	r := q.Register()
	go func() {
		defer close(readerDone)
		defer r.Unregister()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if o := cur.Load(); o != nil && !o.alive.Load() {
				violations.Add(1)
			}
			r.Quiescent()
		}
	}()

	for i := 0; i < 50; i++ {
		old := cur.Load()
		next := &obj{}
		next.alive.Store(true)
		cur.Store(next)
		require.NoError(t, q.Synchronize(context.Background()))
		old.alive.Store(false)
	}
	close(stop)
	<-readerDone
	require.Zero(t, violations.Load())
}
