package locks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, ttl time.Duration) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewManager(rdb, ttl, zerolog.Nop()), mr
}

func TestAcquireRelease(t *testing.T) {
	mgr, _ := newTestManager(t, time.Minute)
	ctx := context.Background()

	l, err := mgr.Acquire(ctx, OpRefreshSource, 7)
	require.NoError(t, err)

	held, err := mgr.Held(ctx, OpRefreshSource, 7)
	require.NoError(t, err)
	assert.True(t, held)

	l.Release(ctx)

	held, err = mgr.Held(ctx, OpRefreshSource, 7)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestAcquireContended(t *testing.T) {
	mgr, _ := newTestManager(t, time.Minute)
	ctx := context.Background()

	l, err := mgr.Acquire(ctx, OpRefreshSource, 1)
	require.NoError(t, err)
	defer l.Release(ctx)

	_, err = mgr.Acquire(ctx, OpRefreshSource, 1)
	assert.ErrorIs(t, err, ErrContended)

	// A different resource id is an independent lock.
	other, err := mgr.Acquire(ctx, OpRefreshSource, 2)
	require.NoError(t, err)
	other.Release(ctx)

	// A different operation on the same id is independent too.
	rehash, err := mgr.Acquire(ctx, OpRehashStreams, 1)
	require.NoError(t, err)
	rehash.Release(ctx)
}

func TestLockExpiresByTTL(t *testing.T) {
	mgr, mr := newTestManager(t, time.Second)
	ctx := context.Background()

	_, err := mgr.Acquire(ctx, OpRefreshSource, 3)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	l, err := mgr.Acquire(ctx, OpRefreshSource, 3)
	require.NoError(t, err)
	l.Release(ctx)
}

func TestReleaseAllToleratesNil(t *testing.T) {
	mgr, _ := newTestManager(t, time.Minute)
	ctx := context.Background()

	a, err := mgr.Acquire(ctx, OpRefreshSource, 10)
	require.NoError(t, err)
	ReleaseAll(ctx, []*Lock{a, nil})

	held, err := mgr.Held(ctx, OpRefreshSource, 10)
	require.NoError(t, err)
	assert.False(t, held)
}
