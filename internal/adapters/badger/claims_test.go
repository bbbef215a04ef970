package badger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *ClaimStore {
	t.Helper()
	store, err := Open("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestClaimStore_SetIfAbsent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ok, err := store.AcquireClaim(ctx, "owner-1", "user-42", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AcquireClaim(ctx, "owner-1", "user-42", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "second claim on the same target must fail")

	ok, err = store.AcquireClaim(ctx, "owner-2", "user-42", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "claims are scoped per owner")
}

func TestClaimStore_Expires(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ok, err := store.AcquireClaim(ctx, "owner-1", "user-7", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(1100 * time.Millisecond)

	ok, err = store.AcquireClaim(ctx, "owner-1", "user-7", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimStore_Release(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.AcquireClaim(ctx, "owner-1", "scenario-run", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.ReleaseClaim(ctx, "owner-1", "scenario-run"))

	ok, err := store.AcquireClaim(ctx, "owner-1", "scenario-run", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimStore_ConcurrentAcquireHasOneWinner(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.AcquireClaim(ctx, "owner-1", "user-99", time.Hour)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&winners))
}
