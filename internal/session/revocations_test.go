package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisRevocations, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	revocations, err := NewRedisRevocations("redis://" + s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = revocations.Close() })
	return revocations, s
}

func TestNewRedisRevocations(t *testing.T) {
	revocations, _ := setupTestRedis(t)
	assert.NoError(t, revocations.Ping(context.Background()))
}

func TestNewRedisRevocationsBadURL(t *testing.T) {
	_, err := NewRedisRevocations("not a url")
	assert.Error(t, err)
}

func TestRedisRevokeAndExpire(t *testing.T) {
	revocations, s := setupTestRedis(t)
	ctx := context.Background()

	revoked, err := revocations.Revoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, revocations.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)))
	revoked, err = revocations.Revoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	s.FastForward(2 * time.Hour)
	revoked, err = revocations.Revoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisRevokeExpiredTokenIsNoop(t *testing.T) {
	revocations, s := setupTestRedis(t)

	require.NoError(t, revocations.Revoke(context.Background(), "old", time.Now().Add(-time.Minute)))
	assert.False(t, s.Exists("strategy:revoked:old"))
}

func TestRedisConnectionFailure(t *testing.T) {
	revocations, s := setupTestRedis(t)
	s.Close()

	_, err := revocations.Revoked(context.Background(), "jti-1")
	assert.Error(t, err)
}

func TestMemoryRevocations(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	m := NewMemoryRevocations()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Revoke(ctx, "a", now.Add(time.Minute)))
	require.NoError(t, m.Revoke(ctx, "stale", now.Add(-time.Minute)))

	revoked, _ := m.Revoked(ctx, "a")
	assert.True(t, revoked)
	revoked, _ = m.Revoked(ctx, "stale")
	assert.False(t, revoked)

	now = now.Add(2 * time.Minute)
	revoked, _ = m.Revoked(ctx, "a")
	assert.False(t, revoked)

	require.NoError(t, m.Revoke(ctx, "b", now.Add(time.Minute)))
	assert.Len(t, m.revoked, 1)
}
