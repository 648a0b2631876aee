package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANALYTICS_JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.Resilience.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 3, cfg.Resilience.Retry.MaxAttempts)
	assert.Equal(t, "exponential_jitter", cfg.Resilience.Retry.Strategy)
	assert.Equal(t, "first_wins", cfg.Resilience.Lock.ConflictPolicy)
	assert.True(t, cfg.Resilience.Degradation.AutoRecovery)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ANALYTICS_JWT_SECRET", "test-secret")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("CB_COOLDOWN", "45s")
	t.Setenv("LOCK_CONFLICT_POLICY", "last_wins")
	t.Setenv("DEGRADATION_THRESHOLD", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Resilience.Retry.MaxAttempts)
	assert.Equal(t, 45*time.Second, cfg.Resilience.CircuitBreaker.Cooldown)
	assert.Equal(t, "last_wins", cfg.Resilience.Lock.ConflictPolicy)
	assert.Equal(t, 0.25, cfg.Resilience.Degradation.DegradationThreshold)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("ANALYTICS_JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT secret")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Analytics: AnalyticsConfig{JWTSecret: "secret"},
			Resilience: ResilienceConfig{
				CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 5},
				Retry:          RetryConfig{MaxAttempts: 3},
				Lock: LockConfig{
					Timeout:         30 * time.Second,
					DeadlockTimeout: 2 * time.Minute,
				},
				Degradation: DegradationConfig{MaxLevel: 3},
			},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("non-positive failure threshold", func(t *testing.T) {
		cfg := base()
		cfg.Resilience.CircuitBreaker.FailureThreshold = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive max attempts", func(t *testing.T) {
		cfg := base()
		cfg.Resilience.Retry.MaxAttempts = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("deadlock timeout must exceed lock timeout", func(t *testing.T) {
		cfg := base()
		cfg.Resilience.Lock.DeadlockTimeout = cfg.Resilience.Lock.Timeout
		assert.Error(t, cfg.Validate())
	})

	t.Run("max level below one", func(t *testing.T) {
		cfg := base()
		cfg.Resilience.Degradation.MaxLevel = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestRedisURL(t *testing.T) {
	cfg := &Config{Redis: RedisConfig{Host: "redis.local", Port: 6380, DB: 2}}
	assert.Equal(t, "redis://redis.local:6380/2", cfg.RedisURL())

	cfg.Redis.Password = "hunter2"
	assert.Equal(t, "redis://:hunter2@redis.local:6380/2", cfg.RedisURL())
}
