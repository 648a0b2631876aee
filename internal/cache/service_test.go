package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyString(t *testing.T) {
	key := CacheKey{Prefix: PrefixSession, ID: "sess-1"}
	assert.Equal(t, "session:sess-1", key.String())

	key = CacheKey{Prefix: PrefixFallback, ID: "authenticate"}
	assert.Equal(t, "fallback:authenticate", key.String())
}

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient("redis://localhost:6379/0", 20)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 20, client.Options().PoolSize)
}

func TestNewRedisClientRejectsBadURL(t *testing.T) {
	_, err := NewRedisClient("not-a-url", 0)
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Greater(t, cfg.SessionTTL, cfg.DefaultTTL)
	assert.Greater(t, cfg.FallbackTTL, cfg.SessionTTL)
}

func TestHitRatioStartsAtZero(t *testing.T) {
	svc := NewService(nil, nil)
	assert.Equal(t, float64(0), svc.HitRatio())
}
