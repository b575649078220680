//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

func startRedis(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client, err := NewClient(ctx, zaptest.NewLogger(t), Options{Host: host, Port: port.Int(), StreamMaxLen: 10})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRunLockFencing(t *testing.T) {
	ctx := context.Background()
	lock := NewRunLock(startRedis(t))

	token, err := lock.Acquire(ctx, "2024-02", time.Minute)
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, "2024-02", time.Minute)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lock.Release(ctx, "2024-02", token+1))
	_, err = lock.Acquire(ctx, "2024-02", time.Minute)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lock.Release(ctx, "2024-02", token))
	next, err := lock.Acquire(ctx, "2024-02", time.Minute)
	require.NoError(t, err)
	assert.Greater(t, next, token)
}

func TestRunLockGuardsSharedTables(t *testing.T) {
	ctx := context.Background()
	client := startRedis(t)
	lock := NewRunLock(client)

	token, err := lock.Acquire(ctx, "2024-02", time.Minute)
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, "2024-01", time.Minute)
	require.ErrorIs(t, err, ErrLocked)
	// nothing of the refused attempt was written
	n, err := client.GetClient().Exists(ctx, LockKey("2024-01")).Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, lock.Release(ctx, "2024-02", token))
	n, err = client.GetClient().Exists(ctx, TablesLockKey).Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = lock.Acquire(ctx, "2024-01", time.Minute)
	require.NoError(t, err)
}

func TestXAddCapsStream(t *testing.T) {
	ctx := context.Background()
	client := startRedis(t)

	for i := 0; i < 3; i++ {
		assert.NotEmpty(t, client.XAdd(ctx, "celltowers:events", map[string]int{"i": i}))
	}
	n, err := client.GetClient().XLen(ctx, "celltowers:events").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
