package pool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dp/api"
)

func TestRegistrySharesByKey(t *testing.T) {
	r := NewRegistry(RegistryConfig{MaxElements: 64, MinElements: 16, Allocator: HeapAllocator{}})
	a, err := r.Acquire(0, 2048)
	require.NoError(t, err)
	b, err := r.Acquire(0, 2048)
	require.NoError(t, err)
	require.Same(t, a, b)
	require.Equal(t, 2, r.Refcount(a))

	c, err := r.Acquire(1, 2048)
	require.NoError(t, err)
	require.NotSame(t, a, c)
	d, err := r.Acquire(0, 4096)
	require.NoError(t, err)
	require.NotSame(t, a, d)
	require.Equal(t, 3, r.Len())
}

func TestRegistryReleaseKeepsPool(t *testing.T) {
	r := NewRegistry(RegistryConfig{MaxElements: 32, MinElements: 32, Allocator: HeapAllocator{}})
	a, err := r.Acquire(0, 512)
	require.NoError(t, err)
	r.Release(a)
	require.Equal(t, 0, r.Refcount(a))
	require.Equal(t, 1, r.Len())

	b, err := r.Acquire(0, 512)
	require.NoError(t, err)
	require.Same(t, a, b)
	require.Equal(t, 1, r.Refcount(b))
}

func TestRegistryShrinksOnOutOfMemory(t *testing.T) {
	alloc := &BudgetAllocator{Allocator: HeapAllocator{}, Budget: 20 * 256}
	r := NewRegistry(RegistryConfig{MaxElements: 64, MinElements: 8, Allocator: alloc})
	mp, err := r.Acquire(0, 256)
	require.NoError(t, err)
	// 64 and 32 exceed the budget, 16 fits.
	require.Equal(t, 16, mp.Capacity())
	require.Equal(t, "hdp_mp_256_0_16", mp.Name())
}

func TestRegistryGivesUpAtMinimum(t *testing.T) {
	alloc := &BudgetAllocator{Allocator: HeapAllocator{}, Budget: 4 * 256}
	r := NewRegistry(RegistryConfig{MaxElements: 64, MinElements: 16, Allocator: alloc})
	_, err := r.Acquire(0, 256)
	require.ErrorIs(t, err, api.ErrOutOfMemory)
	require.Equal(t, 0, r.Len())
}

type failingAllocator struct{ calls int }

func (f *failingAllocator) Alloc(int, int) ([]byte, error) {
	f.calls++
	return nil, errors.New("permission denied")
}

func (f *failingAllocator) Free([]byte) error { return nil }

func TestRegistryDoesNotShrinkOnOtherErrors(t *testing.T) {
	fa := &failingAllocator{}
	r := NewRegistry(RegistryConfig{MaxElements: 64, MinElements: 8, Allocator: fa})
	_, err := r.Acquire(0, 256)
	require.Error(t, err)
	require.NotErrorIs(t, err, api.ErrOutOfMemory)
	require.Equal(t, 1, fa.calls)
}

func TestRegistryStats(t *testing.T) {
	r := NewRegistry(RegistryConfig{MaxElements: 16, MinElements: 16, Backend: BackendStack, Allocator: HeapAllocator{}})
	mp, err := r.Acquire(0, 256)
	require.NoError(t, err)
	m, err := mp.Get()
	require.NoError(t, err)
	st := r.Stats()
	require.Len(t, st, 1)
	require.Equal(t, api.PoolStats{Name: "hdp_mp_256_0_16", EltSize: 256, Capacity: 16, Free: 15, Refcount: 1, Backend: "stack"}, st[0])
	m.Release()
}
