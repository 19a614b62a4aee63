package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPoolSize    = 20
	defaultRedisMaxRetries  = 3
	defaultRedisDialTimeout = 5 * time.Second
	defaultRedisKeyPrefix   = "txreplay:"

	redisScanCount = 256
)

// RedisStorage keeps counters in Redis so several replay servers can share them.
type RedisStorage struct {
	client *redis.Client
	prefix string

	closeOnce sync.Once
	closeErr  error
}

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(cfg *RedisConfig) (*RedisStorage, error) {
	conf, err := normalizeRedisConfig(cfg)
	if err != nil {
		return nil, err
	}

	s := &RedisStorage{
		client: redis.NewClient(&redis.Options{
			Addr:        conf.Host + ":" + strconv.Itoa(conf.Port),
			Password:    conf.Password,
			DB:          conf.DB,
			PoolSize:    conf.PoolSize,
			MaxRetries:  conf.MaxRetries,
			DialTimeout: conf.DialTimeout,
		}),
		prefix: conf.KeyPrefix,
	}

	if err := s.pingWithRetry(context.Background(), conf.MaxRetries); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

func (s *RedisStorage) Increment(ctx context.Context, key string, delta int64, exp time.Duration) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("key is required")
	}
	k := s.prefix + key

	n, err := s.client.IncrBy(ctx, k, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incrby %s: %w", key, err)
	}
	// The key was just created when the result equals delta.
	if exp > 0 && n == delta {
		if err := s.client.PExpire(ctx, k, exp).Err(); err != nil {
			return n, fmt.Errorf("redis pexpire %s: %w", key, err)
		}
	}
	return n, nil
}

func (s *RedisStorage) Counter(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, s.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStorage) Counters(ctx context.Context, prefix string) (map[string]int64, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+prefix+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}

	out := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range vals {
		if v == nil {
			continue // expired between SCAN and MGET
		}
		n, err := asInt64(v)
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", keys[i], err)
		}
		out[strings.TrimPrefix(keys[i], s.prefix)] = n
	}
	return out, nil
}

func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Close releases Redis resources. It is idempotent.
func (s *RedisStorage) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func (s *RedisStorage) pingWithRetry(ctx context.Context, maxRetries int) error {
	attempts := maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := s.client.Ping(ctx).Err(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	if lastErr == nil {
		lastErr = errors.New("ping failed with unknown error")
	}
	return lastErr
}

func normalizeRedisConfig(cfg *RedisConfig) (*RedisConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	conf := *cfg
	if conf.Host == "" {
		return nil, fmt.Errorf("redis host is required")
	}
	if conf.Port <= 0 {
		return nil, fmt.Errorf("redis port must be positive, got %d", conf.Port)
	}
	if conf.PoolSize <= 0 {
		conf.PoolSize = defaultRedisPoolSize
	}
	if conf.MaxRetries <= 0 {
		conf.MaxRetries = defaultRedisMaxRetries
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = defaultRedisDialTimeout
	}
	if conf.KeyPrefix == "" {
		conf.KeyPrefix = defaultRedisKeyPrefix
	}
	return &conf, nil
}

func asInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse int64 from %q: %w", x, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
