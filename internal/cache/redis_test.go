package cache

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

func withStubbedRedis(t *testing.T, pingErr error) *string {
	t.Helper()

	origNewClient := newRedisClient
	origPing := pingRedis
	t.Cleanup(func() {
		newRedisClient = origNewClient
		pingRedis = origPing
		Client = nil
	})

	captured := new(string)
	newRedisClient = func(opts *redis.Options) *redis.Client {
		*captured = opts.Addr
		return redis.NewClient(opts)
	}
	pingRedis = func(ctx context.Context, client *redis.Client) error {
		return pingErr
	}
	return captured
}

func TestInitRedisWithCustomAddr(t *testing.T) {
	captured := withStubbedRedis(t, nil)

	if err := InitRedis(context.Background(), "redis:9999"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *captured != "redis:9999" {
		t.Fatalf("expected custom addr, got %s", *captured)
	}
}

func TestInitRedisDefaultAddr(t *testing.T) {
	captured := withStubbedRedis(t, nil)

	if err := InitRedis(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *captured != "localhost:6379" {
		t.Fatalf("expected default addr, got %s", *captured)
	}
}

func TestInitRedisPingFailure(t *testing.T) {
	withStubbedRedis(t, context.DeadlineExceeded)

	if err := InitRedis(context.Background(), "redis:9999"); err == nil {
		t.Fatal("expected ping error")
	}
	if Client != nil {
		t.Fatal("client should be nil after failed init")
	}
}
