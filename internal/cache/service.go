package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/NikhilSetiya/statsbridge/pkg/errors"
	"github.com/NikhilSetiya/statsbridge/pkg/logging"
)

// Service provides caching for session material and fallback payloads
type Service struct {
	client *redis.Client
	config *Config
	logger *logging.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Config holds cache configuration
type Config struct {
	DefaultTTL  time.Duration `json:"default_ttl"`
	SessionTTL  time.Duration `json:"session_ttl"`
	FallbackTTL time.Duration `json:"fallback_ttl"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultTTL:  1 * time.Hour,
		SessionTTL:  8 * time.Hour,
		FallbackTTL: 24 * time.Hour,
	}
}

// NewService creates a new cache service on top of an existing Redis client
func NewService(client *redis.Client, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}

	return &Service{
		client: client,
		config: config,
		logger: logging.GetLogger(),
	}
}

// NewRedisClient dials Redis from a connection URL
func NewRedisClient(url string, poolSize int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, apperrors.NewInternalError("invalid redis url").WithCause(err)
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	return redis.NewClient(opts), nil
}

// CacheKey generates cache keys with consistent prefixes
type CacheKey struct {
	Prefix string
	ID     string
}

// String returns the formatted cache key
func (ck CacheKey) String() string {
	return fmt.Sprintf("%s:%s", ck.Prefix, ck.ID)
}

// Cache key prefixes
const (
	PrefixSession  = "session"
	PrefixFallback = "fallback"
	PrefixResult   = "result"
)

// Set stores a value in cache with the specified TTL
func (s *Service) Set(ctx context.Context, key CacheKey, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.NewInternalError("failed to serialize cache value").WithCause(err)
	}

	if ttl == 0 {
		ttl = s.config.DefaultTTL
	}

	if err := s.client.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		return apperrors.NewExternalError("redis", "failed to set cache value").WithCause(err)
	}
	return nil
}

// Get retrieves a value from cache into dest
func (s *Service) Get(ctx context.Context, key CacheKey, dest interface{}) error {
	data, err := s.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			s.misses.Add(1)
			return apperrors.NewNotFoundError("cache key " + key.String())
		}
		return apperrors.NewExternalError("redis", "failed to get cache value").WithCause(err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return apperrors.NewInternalError("failed to deserialize cache value").WithCause(err)
	}

	s.hits.Add(1)
	return nil
}

// Delete removes a value from cache
func (s *Service) Delete(ctx context.Context, key CacheKey) error {
	if err := s.client.Del(ctx, key.String()).Err(); err != nil {
		return apperrors.NewExternalError("redis", "failed to delete cache key").WithCause(err)
	}
	return nil
}

// HitRatio returns the observed hit ratio since startup
func (s *Service) HitRatio() float64 {
	hits := s.hits.Load()
	total := hits + s.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Ping verifies the Redis connection
func (s *Service) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apperrors.NewExternalError("redis", "ping failed").WithCause(err)
	}
	return nil
}

// Close releases the underlying Redis connection pool
func (s *Service) Close() error {
	return s.client.Close()
}

// FallbackStore adapts the cache service to the narrow read interface the
// degradation layer's cache action consumes. The action already namespaces
// its keys, so they are used verbatim.
type FallbackStore struct {
	service *Service
}

// NewFallbackStore creates a fallback store view over the cache service
func NewFallbackStore(service *Service) *FallbackStore {
	return &FallbackStore{service: service}
}

// Get fetches a fallback payload by its full key
func (fs *FallbackStore) Get(ctx context.Context, key string) (interface{}, error) {
	data, err := fs.service.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			fs.service.misses.Add(1)
			return nil, apperrors.NewNotFoundError("fallback payload " + key)
		}
		return nil, apperrors.NewExternalError("redis", "failed to get fallback payload").WithCause(err)
	}

	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, apperrors.NewInternalError("failed to deserialize fallback payload").WithCause(err)
	}

	fs.service.hits.Add(1)
	return value, nil
}

// Put stores a fallback payload under its full key
func (fs *FallbackStore) Put(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.NewInternalError("failed to serialize fallback payload").WithCause(err)
	}
	if err := fs.service.client.Set(ctx, key, data, fs.service.config.FallbackTTL).Err(); err != nil {
		return apperrors.NewExternalError("redis", "failed to store fallback payload").WithCause(err)
	}
	return nil
}
