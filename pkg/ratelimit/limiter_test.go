package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nimbusid/core/pkg/cache"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLimiter(cache.New(rdb), nil, nil, nil, logger)
}

func TestLimiterAllowsUnderLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	class := Class{Name: "test", WindowSeconds: 60, BaseLimit: 3}

	for i := 1; i <= 3; i++ {
		result, err := limiter.Check(context.Background(), "ip:1.2.3.4", class, "", nil)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !result.Allowed {
			t.Errorf("request %d: Allowed = false, want true", i)
		}
		if result.Remaining != 3-i {
			t.Errorf("request %d: Remaining = %d, want %d", i, result.Remaining, 3-i)
		}
	}
}

func TestLimiterDeniesOverLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	class := Class{Name: "test", WindowSeconds: 60, BaseLimit: 1}

	if result, err := limiter.Check(context.Background(), "ip:1.2.3.4", class, "", nil); err != nil || !result.Allowed {
		t.Fatalf("first request should be allowed, got %+v, err %v", result, err)
	}
	result, err := limiter.Check(context.Background(), "ip:1.2.3.4", class, "", nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Allowed {
		t.Error("second request over limit should be denied")
	}
	if result.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0 once denied", result.Remaining)
	}
}

func TestLimiterRoleMultiplierRaisesLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	class := Class{Name: "test", WindowSeconds: 60, BaseLimit: 2}

	result, err := limiter.Check(context.Background(), "identity:abc", class, "admin", nil)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Limit != 4 {
		t.Errorf("Limit = %d, want 4 (base 2 x admin multiplier 2)", result.Limit)
	}
}
