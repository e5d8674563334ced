package quota_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/skillpath-ai/internal/domain"
	"github.com/fairyhunter13/skillpath-ai/internal/service/quota"
)

func TestTracker_ConsumeUntilDenied(t *testing.T) {
	t.Parallel()
	tr := quota.NewTracker(quota.NewMemoryStore(), time.UTC)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		remaining, err := tr.CheckAndConsume(ctx, "u1", domain.EndpointTutor, 3)
		require.NoError(t, err)
		assert.Equal(t, 3-i-1, remaining)
	}
	_, err := tr.CheckAndConsume(ctx, "u1", domain.EndpointTutor, 3)
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
}

func TestTracker_UnlimitedNeverDenies(t *testing.T) {
	t.Parallel()
	tr := quota.NewTracker(quota.NewMemoryStore(), time.UTC)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		remaining, err := tr.CheckAndConsume(ctx, "u1", domain.EndpointTutor, domain.UnlimitedQuota)
		require.NoError(t, err)
		assert.Equal(t, domain.UnlimitedQuota, remaining)
	}
}

func TestTracker_EndpointsIsolated(t *testing.T) {
	t.Parallel()
	tr := quota.NewTracker(quota.NewMemoryStore(), time.UTC)
	ctx := context.Background()

	_, err := tr.CheckAndConsume(ctx, "u1", domain.EndpointTutor, 1)
	require.NoError(t, err)
	_, err = tr.CheckAndConsume(ctx, "u1", domain.EndpointTutor, 1)
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)

	// The roadmap counter is untouched by tutor consumption.
	_, err = tr.CheckAndConsume(ctx, "u1", domain.EndpointRoadmap, 1)
	require.NoError(t, err)
}

func TestTracker_UsersIsolated(t *testing.T) {
	t.Parallel()
	tr := quota.NewTracker(quota.NewMemoryStore(), time.UTC)
	ctx := context.Background()

	_, err := tr.CheckAndConsume(ctx, "u1", domain.EndpointTutor, 1)
	require.NoError(t, err)
	_, err = tr.CheckAndConsume(ctx, "u2", domain.EndpointTutor, 1)
	require.NoError(t, err)
}

func TestTracker_DayRollover(t *testing.T) {
	t.Parallel()
	tr := quota.NewTracker(quota.NewMemoryStore(), time.UTC)
	now := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	tr.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := tr.CheckAndConsume(ctx, "u1", domain.EndpointTutor, 1)
	require.NoError(t, err)
	_, err = tr.CheckAndConsume(ctx, "u1", domain.EndpointTutor, 1)
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)

	// Two minutes later it is a new day and the counter starts fresh.
	now = now.Add(2 * time.Minute)
	remaining, err := tr.CheckAndConsume(ctx, "u1", domain.EndpointTutor, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestTracker_TimezoneBoundsDay(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	tr := quota.NewTracker(quota.NewMemoryStore(), loc)
	// 03:00 UTC is still the previous day in New York.
	now := time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)
	tr.SetClock(func() time.Time { return now })

	assert.Contains(t, tr.DayKey("u1", domain.EndpointTutor), "2026-03-14")
}

// Under concurrent contention exactly min(N, limit) requests win.
func TestTracker_ConcurrentConsumeExactlyLimit(t *testing.T) {
	t.Parallel()
	tr := quota.NewTracker(quota.NewMemoryStore(), time.UTC)
	ctx := context.Background()
	const n, limit = 40, 10

	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.CheckAndConsume(ctx, "u1", domain.EndpointTutor, limit)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	granted, denied := 0, 0
	for err := range results {
		if err == nil {
			granted++
		} else {
			require.ErrorIs(t, err, domain.ErrQuotaExceeded)
			denied++
		}
	}
	assert.Equal(t, limit, granted)
	assert.Equal(t, n-limit, denied)
}

func TestTracker_Remaining(t *testing.T) {
	t.Parallel()
	tr := quota.NewTracker(quota.NewMemoryStore(), time.UTC)
	ctx := context.Background()

	used, remaining, err := tr.Remaining(ctx, "u1", domain.EndpointTutor, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, used)
	assert.Equal(t, 10, remaining)

	_, err = tr.CheckAndConsume(ctx, "u1", domain.EndpointTutor, 10)
	require.NoError(t, err)

	used, remaining, err = tr.Remaining(ctx, "u1", domain.EndpointTutor, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, used)
	assert.Equal(t, 9, remaining)

	used, remaining, err = tr.Remaining(ctx, "u1", domain.EndpointTutor, domain.UnlimitedQuota)
	require.NoError(t, err)
	assert.Equal(t, 1, used)
	assert.Equal(t, domain.UnlimitedQuota, remaining)
}
