package quota_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/skillpath-ai/internal/domain"
	"github.com/fairyhunter13/skillpath-ai/internal/service/quota"
)

func newTestRedisStore(t *testing.T) *quota.RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return quota.NewRedisStore(rdb)
}

func TestRedisStore_IncrementUntilLimit(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, allowed, err := store.Increment(ctx, "usage:u1:tutor:2026-03-14", 3)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, i, count)
	}
	count, allowed, err := store.Increment(ctx, "usage:u1:tutor:2026-03-14", 3)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 3, count)
}

func TestRedisStore_UnlimitedAlwaysAllows(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		count, allowed, err := store.Increment(ctx, "usage:u1:tutor:2026-03-14", -1)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, i, count)
	}
}

func TestRedisStore_GetMissingIsZero(t *testing.T) {
	store := newTestRedisStore(t)
	count, err := store.Get(context.Background(), "usage:nobody:tutor:2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRedisStore_ConcurrentIncrementAtomic(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	const n, limit = 30, 10

	var wg sync.WaitGroup
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, allowed, err := store.Increment(ctx, "usage:u1:tutor:2026-03-14", limit)
			require.NoError(t, err)
			results <- allowed
		}()
	}
	wg.Wait()
	close(results)

	granted := 0
	for allowed := range results {
		if allowed {
			granted++
		}
	}
	assert.Equal(t, limit, granted)
}

func TestTracker_OverRedisStore(t *testing.T) {
	store := newTestRedisStore(t)
	tr := quota.NewTracker(store, time.UTC)
	ctx := context.Background()

	remaining, err := tr.CheckAndConsume(ctx, "u1", domain.EndpointRoadmap, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
	_, err = tr.CheckAndConsume(ctx, "u1", domain.EndpointRoadmap, 2)
	require.NoError(t, err)
	_, err = tr.CheckAndConsume(ctx, "u1", domain.EndpointRoadmap, 2)
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
}
