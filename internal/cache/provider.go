package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider is the byte-oriented cache used for prediction results.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// Supported backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Open builds the provider for a backend name. Redis settings are only read for BackendRedis.
func Open(backend string, redisCfg RedisConfig) (Provider, error) {
	switch backend {
	case "", BackendNone:
		return NoopProvider{}, nil
	case BackendMemory:
		return NewMemoryProvider(), nil
	case BackendRedis:
		return NewRedisProvider(redisCfg)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// SetNX reports success without storing anything.
func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// Del is a no-op.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }
