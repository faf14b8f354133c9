package locking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_AcquireRelease(t *testing.T) {
	km := New(time.Second)
	ctx := context.Background()

	release, err := km.Acquire(ctx, "product-a")
	require.NoError(t, err)
	release()

	// Re-acquire after release must succeed immediately
	release, err = km.Acquire(ctx, "product-a")
	require.NoError(t, err)
	release()
}

func TestKeyedMutex_TimesOutWhenHeld(t *testing.T) {
	km := New(50 * time.Millisecond)
	ctx := context.Background()

	release, err := km.Acquire(ctx, "product-a")
	require.NoError(t, err)
	defer release()

	_, err = km.Acquire(ctx, "product-a")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestKeyedMutex_DifferentKeysIndependent(t *testing.T) {
	km := New(50 * time.Millisecond)
	ctx := context.Background()

	relA, err := km.Acquire(ctx, "product-a")
	require.NoError(t, err)
	defer relA()

	relB, err := km.Acquire(ctx, "product-b")
	require.NoError(t, err)
	relB()
}

func TestKeyedMutex_ContextCancellation(t *testing.T) {
	km := New(time.Minute)

	release, err := km.Acquire(context.Background(), "product-a")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = km.Acquire(ctx, "product-a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyedMutex_ReleaseIsIdempotent(t *testing.T) {
	km := New(time.Second)
	ctx := context.Background()

	release, err := km.Acquire(ctx, "product-a")
	require.NoError(t, err)
	release()
	release() // second call must not double-unlock

	release, err = km.Acquire(ctx, "product-a")
	require.NoError(t, err)
	release()
}

func TestKeyedMutex_AcquireAllSortsAndDeduplicates(t *testing.T) {
	km := New(time.Second)
	ctx := context.Background()

	release, err := km.AcquireAll(ctx, []string{"b", "a", "b", "c"})
	require.NoError(t, err)

	// All three keys must be held
	_, err = km.Acquire(ctx, "a")
	assert.Error(t, err)

	release()

	// And free again after the combined release
	rel, err := km.Acquire(ctx, "a")
	require.NoError(t, err)
	rel()
}

func TestKeyedMutex_AcquireAllRollsBackOnFailure(t *testing.T) {
	km := New(50 * time.Millisecond)
	ctx := context.Background()

	// Hold "b" so AcquireAll([a b]) fails after taking "a"
	relB, err := km.Acquire(ctx, "b")
	require.NoError(t, err)
	defer relB()

	_, err = km.AcquireAll(ctx, []string{"a", "b"})
	require.ErrorIs(t, err, ErrTimeout)

	// "a" must have been released during rollback
	relA, err := km.Acquire(ctx, "a")
	require.NoError(t, err)
	relA()
}

func TestKeyedMutex_MutualExclusionUnderContention(t *testing.T) {
	km := New(5 * time.Second)
	ctx := context.Background()

	var counter int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := km.Acquire(ctx, "shared")
			if err != nil {
				t.Error(err)
				return
			}
			defer release()
			counter++
		}()
	}

	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestKeyedMutex_EntriesAreReclaimed(t *testing.T) {
	km := New(time.Second)
	ctx := context.Background()

	release, err := km.Acquire(ctx, "product-a")
	require.NoError(t, err)
	release()

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.entries)
}
