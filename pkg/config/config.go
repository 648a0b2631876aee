package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Redis      RedisConfig      `json:"redis"`
	Analytics  AnalyticsConfig  `json:"analytics"`
	Logging    LoggingConfig    `json:"logging"`
	Tracing    TracingConfig    `json:"tracing"`
	Resilience ResilienceConfig `json:"resilience"`
}

// ServerConfig contains HTTP status server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// AnalyticsConfig contains the upstream analytics API configuration
type AnalyticsConfig struct {
	BaseURL        string        `json:"base_url"`
	APIKey         string        `json:"api_key"`
	JWTSecret      string        `json:"jwt_secret"`
	SessionTTL     time.Duration `json:"session_ttl"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains distributed tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
}

// ResilienceConfig contains thresholds for the resilience core
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Retry          RetryConfig          `json:"retry"`
	Lock           LockConfig           `json:"lock"`
	Degradation    DegradationConfig    `json:"degradation"`
}

// CircuitBreakerConfig contains circuit breaker thresholds
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled"`
	FailureThreshold int           `json:"failure_threshold"`
	Cooldown         time.Duration `json:"cooldown"`
}

// RetryConfig contains retry executor settings
type RetryConfig struct {
	Enabled      bool          `json:"enabled"`
	MaxAttempts  int           `json:"max_attempts"`
	Strategy     string        `json:"strategy"`
	BaseDelay    time.Duration `json:"base_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	JitterFactor float64       `json:"jitter_factor"`
	HistorySize  int           `json:"history_size"`
}

// LockConfig contains lock manager settings
type LockConfig struct {
	Enabled         bool          `json:"enabled"`
	Timeout         time.Duration `json:"timeout"`
	DeadlockTimeout time.Duration `json:"deadlock_timeout"`
	ConflictPolicy  string        `json:"conflict_policy"`
}

// DegradationConfig contains degradation manager settings
type DegradationConfig struct {
	Enabled              bool          `json:"enabled"`
	MaxLevel             int           `json:"max_level"`
	DegradationThreshold float64       `json:"degradation_threshold"`
	RecoveryThreshold    float64       `json:"recovery_threshold"`
	MinSampleSize        int           `json:"min_sample_size"`
	AutoRecovery         bool          `json:"auto_recovery"`
	HealthCheckInterval  time.Duration `json:"health_check_interval"`
	HistorySize          int           `json:"history_size"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Analytics: AnalyticsConfig{
			BaseURL:        getEnvString("ANALYTICS_BASE_URL", "https://analytics.example.com"),
			APIKey:         getEnvString("ANALYTICS_API_KEY", ""),
			JWTSecret:      getEnvString("ANALYTICS_JWT_SECRET", ""),
			SessionTTL:     getEnvDuration("ANALYTICS_SESSION_TTL", 1*time.Hour),
			RequestTimeout: getEnvDuration("ANALYTICS_REQUEST_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          getEnvBool("CB_ENABLED", true),
				FailureThreshold: getEnvInt("CB_FAILURE_THRESHOLD", 5),
				Cooldown:         getEnvDuration("CB_COOLDOWN", 30*time.Second),
			},
			Retry: RetryConfig{
				Enabled:      getEnvBool("RETRY_ENABLED", true),
				MaxAttempts:  getEnvInt("RETRY_MAX_ATTEMPTS", 3),
				Strategy:     getEnvString("RETRY_STRATEGY", "exponential_jitter"),
				BaseDelay:    getEnvDuration("RETRY_BASE_DELAY", 100*time.Millisecond),
				MaxDelay:     getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
				JitterFactor: getEnvFloat("RETRY_JITTER_FACTOR", 0.1),
				HistorySize:  getEnvInt("RETRY_HISTORY_SIZE", 100),
			},
			Lock: LockConfig{
				Enabled:         getEnvBool("LOCK_ENABLED", true),
				Timeout:         getEnvDuration("LOCK_TIMEOUT", 30*time.Second),
				DeadlockTimeout: getEnvDuration("LOCK_DEADLOCK_TIMEOUT", 2*time.Minute),
				ConflictPolicy:  getEnvString("LOCK_CONFLICT_POLICY", "first_wins"),
			},
			Degradation: DegradationConfig{
				Enabled:              getEnvBool("DEGRADATION_ENABLED", true),
				MaxLevel:             getEnvInt("DEGRADATION_MAX_LEVEL", 3),
				DegradationThreshold: getEnvFloat("DEGRADATION_THRESHOLD", 0.5),
				RecoveryThreshold:    getEnvFloat("DEGRADATION_RECOVERY_THRESHOLD", 0.9),
				MinSampleSize:        getEnvInt("DEGRADATION_MIN_SAMPLE_SIZE", 10),
				AutoRecovery:         getEnvBool("DEGRADATION_AUTO_RECOVERY", true),
				HealthCheckInterval:  getEnvDuration("DEGRADATION_HEALTH_CHECK_INTERVAL", 30*time.Second),
				HistorySize:          getEnvInt("DEGRADATION_HISTORY_SIZE", 100),
			},
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Analytics.JWTSecret == "" {
		return fmt.Errorf("analytics JWT secret is required")
	}

	if c.Resilience.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit breaker failure threshold must be positive")
	}

	if c.Resilience.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be positive")
	}

	if c.Resilience.Lock.DeadlockTimeout <= c.Resilience.Lock.Timeout {
		return fmt.Errorf("deadlock timeout must exceed the lock timeout")
	}

	if c.Resilience.Degradation.MaxLevel < 1 {
		return fmt.Errorf("degradation max level must be at least 1")
	}

	return nil
}

// RedisURL returns the Redis connection URL
func (c *Config) RedisURL() string {
	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d",
			c.Redis.Password,
			c.Redis.Host,
			c.Redis.Port,
			c.Redis.DB,
		)
	}
	return fmt.Sprintf("redis://%s:%d/%d",
		c.Redis.Host,
		c.Redis.Port,
		c.Redis.DB,
	)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
