package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	manager, err := NewManager(Config{
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestManager_SetAndGet(t *testing.T) {
	m := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k1", "v1", 0))
	val, err := m.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "v1", val)
}

func TestManager_GetMiss(t *testing.T) {
	m := setupTestRedis(t)

	_, err := m.Get(context.Background(), "absent")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_JSONRoundTrip(t *testing.T) {
	m := setupTestRedis(t)
	ctx := context.Background()

	type doc struct {
		ID      string `json:"id"`
		Session int    `json:"session"`
	}
	require.NoError(t, m.SetJSON(ctx, "snap:1", doc{ID: "snap-1", Session: 3}, 0))

	var got doc
	require.NoError(t, m.GetJSON(ctx, "snap:1", &got))
	assert.Equal(t, "snap-1", got.ID)
	assert.Equal(t, 3, got.Session)
}

func TestManager_Delete(t *testing.T) {
	m := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k1", "v1", 0))
	require.NoError(t, m.Delete(ctx, "k1"))

	_, err := m.Get(ctx, "k1")
	assert.True(t, IsCacheMiss(err))

	assert.NoError(t, m.Delete(ctx))
}

func TestManager_Exists(t *testing.T) {
	m := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k1", "v1", 0))
	count, err := m.Exists(ctx, "k1", "absent")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestManager_ClosedRejectsOperations(t *testing.T) {
	m := setupTestRedis(t)
	require.NoError(t, m.Close())

	_, err := m.Get(context.Background(), "k1")
	assert.Error(t, err)
	assert.False(t, IsCacheMiss(err))

	assert.NoError(t, m.Close())
}

func TestNewManager_UnreachableRedis(t *testing.T) {
	_, err := NewManager(Config{Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewManagerWithClient_DoesNotOwnConnection(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	m := NewManagerWithClient(client, Config{DefaultTTL: time.Minute}, zap.NewNop())
	require.NoError(t, m.Close())

	assert.NoError(t, client.Ping(context.Background()).Err())
}
