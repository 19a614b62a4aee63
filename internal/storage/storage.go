package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/SmitUplenchwar2687/txreplay/internal/clock"
)

// Backend names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Storage holds named int64 counters shared by all replay sessions.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Increment atomically adds delta to key and returns the new value.
	// A missing or expired key starts from zero; exp is applied only
	// when the key is created. exp == 0 means no expiration.
	Increment(ctx context.Context, key string, delta int64, exp time.Duration) (int64, error)

	// Counter returns the current value of key, or 0 if it does not exist.
	Counter(ctx context.Context, key string) (int64, error)

	// Counters returns every live counter whose key starts with prefix.
	Counters(ctx context.Context, prefix string) (map[string]int64, error)

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Host        string        `json:"host" yaml:"host"`
	Port        int           `json:"port" yaml:"port"`
	Password    string        `json:"password" yaml:"password"`
	DB          int           `json:"db" yaml:"db"`
	PoolSize    int           `json:"pool_size" yaml:"pool_size"`
	MaxRetries  int           `json:"max_retries" yaml:"max_retries"`
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	KeyPrefix   string        `json:"key_prefix" yaml:"key_prefix"`
}

// Config selects and configures a backend.
type Config struct {
	Backend string      `json:"backend" yaml:"backend"`
	Redis   RedisConfig `json:"redis" yaml:"redis"`
}

// Validate checks the backend selection.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendRedis:
		if c.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required")
		}
		if c.Redis.Port <= 0 {
			return fmt.Errorf("storage.redis.port must be positive, got %d", c.Redis.Port)
		}
		return nil
	default:
		return fmt.Errorf("unknown storage backend %q, must be one of: memory, redis", c.Backend)
	}
}

// New creates the configured backend. The memory backend expires keys on c.
func New(cfg Config, c clock.Clock) (Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendRedis:
		s, err := NewRedisStorage(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return NewMemoryStorage(c), nil
	}
}
