package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, limit int) (*FixedWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	limiter, err := NewFixedWindowLimiter(redis.NewClient(&redis.Options{Addr: srv.Addr()}), "test:ratelimit", limit, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return limiter, srv
}

func TestFixedWindowLimiterBlocksOverQuota(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, 2)
	if !limiter.Allow(ctx, "sign-in:203.0.113.5") {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow(ctx, "sign-in:203.0.113.5") {
		t.Fatalf("second request should pass")
	}
	if limiter.Allow(ctx, "sign-in:203.0.113.5") {
		t.Fatalf("third request should be blocked")
	}
	if !limiter.Allow(ctx, "sign-in:203.0.113.6") {
		t.Fatalf("other keys keep their own quota")
	}
}

func TestFixedWindowLimiterResetsOnNextWindow(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if !limiter.Allow(ctx, "k") {
		t.Fatalf("first request should pass")
	}
	if limiter.Allow(ctx, "k") {
		t.Fatalf("second request in same window should be blocked")
	}
	now = now.Add(time.Minute)
	if !limiter.Allow(ctx, "k") {
		t.Fatalf("request in next window should pass")
	}
}

func TestFixedWindowLimiterFailClosed(t *testing.T) {
	limiter, srv := newTestLimiter(t, 1)
	srv.Close()
	if limiter.Allow(context.Background(), "ip-1") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterValidatesArguments(t *testing.T) {
	if _, err := NewFixedWindowLimiter(nil, "", 1, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	if _, err := NewFixedWindowLimiter(client, "", 0, time.Second); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}
