package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suiyueqingqian/model-check-sub000/internal/coordination"
)

func TestAcquireRelease_RoundTrip(t *testing.T) {
	store := coordination.NewMemory()
	g := New(store)
	ctx := context.Background()

	limits := Limits{MaxGlobalConcurrency: 2, ChannelConcurrency: 1}
	require.NoError(t, g.Acquire(ctx, "chan-1", limits))
	require.NoError(t, g.Release(ctx, "chan-1"))

	globalVal, err := store.Incr(ctx, coordination.KeyGlobalSemaphore, 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, globalVal, int64(1))
}

func TestAcquire_ChannelCeilingBlocksSecondHolder(t *testing.T) {
	store := coordination.NewMemory()
	g := New(store)
	ctx := context.Background()
	limits := Limits{MaxGlobalConcurrency: 10, ChannelConcurrency: 1}

	require.NoError(t, g.Acquire(ctx, "chan-1", limits))

	acquired := make(chan struct{})
	go func() {
		_ = g.Acquire(ctx, "chan-1", limits)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should not have completed while the channel slot is held")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, g.Release(ctx, "chan-1"))

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second acquire did not complete after release")
	}
}

func TestAcquire_GlobalCeilingIndependentOfChannel(t *testing.T) {
	store := coordination.NewMemory()
	g := New(store)
	ctx := context.Background()
	limits := Limits{MaxGlobalConcurrency: 1, ChannelConcurrency: 5}

	require.NoError(t, g.Acquire(ctx, "chan-a", limits))

	acquired := make(chan struct{})
	go func() {
		_ = g.Acquire(ctx, "chan-b", limits)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("a different channel should still be blocked by the global ceiling")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, g.Release(ctx, "chan-a"))
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("global slot release did not unblock the other channel")
	}
}

func TestAcquire_ContextCancellation(t *testing.T) {
	store := coordination.NewMemory()
	g := New(store)
	ctx, cancel := context.WithCancel(context.Background())
	limits := Limits{MaxGlobalConcurrency: 1, ChannelConcurrency: 1}

	require.NoError(t, g.Acquire(ctx, "chan-1", limits))

	waitCtx, waitCancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Acquire(waitCtx, "chan-1", limits)
	}()
	waitCancel()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not observe context cancellation")
	}
	cancel()
}

func TestAcquire_ConcurrentStress(t *testing.T) {
	store := coordination.NewMemory()
	g := New(store)
	ctx := context.Background()
	limits := Limits{MaxGlobalConcurrency: 3, ChannelConcurrency: 3}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Acquire(ctx, "chan-1", limits))
			defer func() { require.NoError(t, g.Release(ctx, "chan-1")) }()
			time.Sleep(5 * time.Millisecond)
		}()
	}
	wg.Wait()

	val, err := store.Incr(ctx, coordination.ChannelSemaphoreKey("chan-1"), 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, val, int64(1))
}
