package storage

import (
	"context"
	"strconv"
	"testing"
	"time"

	testcontainers "github.com/testcontainers/testcontainers-go"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newRedisStorageForTest(t *testing.T) *RedisStorage {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := rediscontainer.Run(ctx, "redis:7.2-alpine")
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("container mapped port: %v", err)
	}
	p, err := strconv.Atoi(port.Port())
	if err != nil {
		t.Fatalf("parse mapped port: %v", err)
	}

	store, err := NewRedisStorage(&RedisConfig{
		Host:        host,
		Port:        p,
		DialTimeout: 5 * time.Second,
		KeyPrefix:   "txreplay-test:",
	})
	if err != nil {
		t.Fatalf("NewRedisStorage() error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
