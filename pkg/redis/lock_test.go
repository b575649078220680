package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockExcludesSecondRun(t *testing.T) {
	ctx := context.Background()
	lock := NewLocalLock()

	token, err := lock.Acquire(ctx, "2024-02", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), token)

	_, err = lock.Acquire(ctx, "2024-02", time.Hour)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lock.Release(ctx, "2024-02", token))
	other, err := lock.Acquire(ctx, "2024-03", time.Hour)
	require.NoError(t, err)
	assert.Greater(t, other, token, "tokens are monotonic across periods and failed attempts")
}

func TestLocalLockExcludesOtherPeriodOnSharedTables(t *testing.T) {
	ctx := context.Background()
	lock := NewLocalLock()

	token, err := lock.Acquire(ctx, "2024-02", time.Hour)
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, "2024-01", time.Hour)
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "tables held by period 2024-02")

	// the refused attempt left nothing behind: once 2024-02 is done, 2024-01 may run
	require.NoError(t, lock.Release(ctx, "2024-02", token))
	_, err = lock.Acquire(ctx, "2024-01", time.Hour)
	require.NoError(t, err)
}

func TestLocalLockRefusedPeriodKeepsTablesFree(t *testing.T) {
	ctx := context.Background()
	lock := NewLocalLock()
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	lock.now = func() time.Time { return now }

	// a period lock outliving the tables lock
	_, ok := lock.take(LockKey("2024-02"), localEntry{token: 99, period: "2024-02", expires: now.Add(time.Hour)})
	require.True(t, ok)

	_, err := lock.Acquire(ctx, "2024-02", time.Minute)
	require.ErrorIs(t, err, ErrLocked)

	_, err = lock.Acquire(ctx, "2024-03", time.Minute)
	require.NoError(t, err, "the failed attempt must roll back its tables lock")
}

func TestLocalLockReleaseChecksToken(t *testing.T) {
	ctx := context.Background()
	lock := NewLocalLock()

	token, err := lock.Acquire(ctx, "2024-02", time.Hour)
	require.NoError(t, err)

	require.NoError(t, lock.Release(ctx, "2024-02", token+100))
	_, err = lock.Acquire(ctx, "2024-02", time.Hour)
	require.ErrorIs(t, err, ErrLocked, "stale token must not release the lock")

	require.NoError(t, lock.Release(ctx, "2024-02", token))
	_, err = lock.Acquire(ctx, "2024-02", time.Hour)
	require.NoError(t, err)
}

func TestLocalLockExpires(t *testing.T) {
	ctx := context.Background()
	lock := NewLocalLock()
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	lock.now = func() time.Time { return now }

	first, err := lock.Acquire(ctx, "2024-02", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	second, err := lock.Acquire(ctx, "2024-02", time.Minute)
	require.NoError(t, err)
	assert.Greater(t, second, first)

	// the expired holder can no longer release the new lock
	require.NoError(t, lock.Release(ctx, "2024-02", first))
	_, err = lock.Acquire(ctx, "2024-02", time.Minute)
	require.ErrorIs(t, err, ErrLocked)
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "celltowers:lock:2024-02", LockKey("2024-02"))
}
