package ratelimiter

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, buckets map[string]BucketConfig) *RedisLuaLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLuaLimiter(rdb, buckets)
}

func TestAllowConsumesTokens(t *testing.T) {
	lim := newTestLimiter(t, map[string]BucketConfig{
		"coupang": {Capacity: 2, RefillRate: 0.001},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := lim.Allow(ctx, "coupang", 1)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, retryAfter, err := lim.Allow(ctx, "coupang", 1)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Fatalf("third request should be denied")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", retryAfter)
	}
}

func TestAllowUnconfiguredKeyPasses(t *testing.T) {
	lim := newTestLimiter(t, map[string]BucketConfig{})
	allowed, _, err := lim.Allow(context.Background(), "unknown", 1)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !allowed {
		t.Fatalf("unconfigured key must pass")
	}
}

func TestAllowFailsOpenOnTransportError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	lim := NewRedisLuaLimiter(rdb, map[string]BucketConfig{
		"coupang": {Capacity: 1, RefillRate: 1},
	})
	mr.Close()
	_ = rdb.Close()

	allowed, _, err := lim.Allow(context.Background(), "coupang", 1)
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if !allowed {
		t.Fatalf("limiter must fail open on transport errors")
	}
}

func TestNewBucketConfigFromPerMinute(t *testing.T) {
	cfg := NewBucketConfigFromPerMinute(120)
	if cfg.Capacity != 120 {
		t.Fatalf("capacity = %d, want 120", cfg.Capacity)
	}
	if cfg.RefillRate != 2.0 {
		t.Fatalf("refill rate = %v, want 2", cfg.RefillRate)
	}
	if got := NewBucketConfigFromPerMinute(0); got.Capacity != 0 {
		t.Fatalf("zero budget should disable the bucket")
	}
}

func TestSetBucketConfig(t *testing.T) {
	lim := newTestLimiter(t, nil)
	lim.SetBucketConfig("gmarket", BucketConfig{Capacity: 1, RefillRate: 0.001})
	ctx := context.Background()

	allowed, _, err := lim.Allow(ctx, "gmarket", 1)
	if err != nil || !allowed {
		t.Fatalf("first request should pass, allowed=%v err=%v", allowed, err)
	}
	allowed, _, err = lim.Allow(ctx, "gmarket", 1)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Fatalf("second request should be denied")
	}
}
