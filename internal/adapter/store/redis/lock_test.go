package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

func TestAcquireIsExclusive(t *testing.T) {
	store, _ := newTestStore(t)
	lock := NewPlatformLock(store, 2*time.Hour)
	ctx := t.Context()

	ok, err := lock.Acquire(ctx, "coupang")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lock.Acquire(ctx, "coupang")
	require.NoError(t, err)
	require.False(t, ok)

	// A different platform is independent.
	ok, err = lock.Acquire(ctx, "gmarket")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReleaseAllowsReacquire(t *testing.T) {
	store, _ := newTestStore(t)
	lock := NewPlatformLock(store, 2*time.Hour)
	ctx := t.Context()

	ok, err := lock.Acquire(ctx, "coupang")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, lock.Release(ctx, "coupang"))

	locked, err := lock.IsLocked(ctx, "coupang")
	require.NoError(t, err)
	require.False(t, locked)

	ok, err = lock.Acquire(ctx, "coupang")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLockExpiresByTTL(t *testing.T) {
	store, mr := newTestStore(t)
	lock := NewPlatformLock(store, time.Minute)
	ctx := t.Context()

	ok, err := lock.Acquire(ctx, "coupang")
	require.NoError(t, err)
	require.True(t, ok)

	ttl, err := lock.TTL(ctx, "coupang")
	require.NoError(t, err)
	require.Equal(t, time.Minute, ttl)

	// A crashed worker never releases; the TTL frees the platform.
	mr.FastForward(2 * time.Minute)

	locked, err := lock.IsLocked(ctx, "coupang")
	require.NoError(t, err)
	require.False(t, locked)

	ttl, err = lock.TTL(ctx, "coupang")
	require.NoError(t, err)
	require.Zero(t, ttl)
}

func TestRunningJobRecordRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	lock := NewPlatformLock(store, 2*time.Hour)
	ctx := t.Context()

	rj, err := lock.RunningJob(ctx, "coupang")
	require.NoError(t, err)
	require.Nil(t, rj)

	started := time.Now().Truncate(time.Millisecond)
	require.NoError(t, lock.SetRunningJob(ctx, "coupang", domain.RunningJob{
		JobID:      "job-1",
		WorkflowID: "coupang-update-v2",
		StartedAt:  started,
	}))

	rj, err = lock.RunningJob(ctx, "coupang")
	require.NoError(t, err)
	require.NotNil(t, rj)
	require.Equal(t, "job-1", rj.JobID)
	require.True(t, rj.StartedAt.Equal(started))

	require.NoError(t, lock.ClearRunningJob(ctx, "coupang"))
	rj, err = lock.RunningJob(ctx, "coupang")
	require.NoError(t, err)
	require.Nil(t, rj)
}
