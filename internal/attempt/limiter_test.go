package attempt

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRateLimiterAllowsWithinLimit(t *testing.T) {
	l := NewMemoryRateLimiter(RateConfig{Window: time.Minute, MaxRequests: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "42")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !ok {
			t.Fatalf("message %d rejected inside the limit", i+1)
		}
	}
}

func TestMemoryRateLimiterBlocksOverLimit(t *testing.T) {
	l := NewMemoryRateLimiter(RateConfig{Window: time.Minute, MaxRequests: 2, BlockDuration: 5 * time.Minute})
	ctx := context.Background()

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	l.Allow(ctx, "42")
	l.Allow(ctx, "42")
	ok, err := l.Allow(ctx, "42")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatal("expected third message in the window to be rejected")
	}

	// Still blocked before the cool-down elapses, even in a fresh window.
	clock = clock.Add(2 * time.Minute)
	if ok, _ := l.Allow(ctx, "42"); ok {
		t.Error("expected user to stay blocked during the cool-down")
	}

	clock = clock.Add(4 * time.Minute)
	if ok, _ := l.Allow(ctx, "42"); !ok {
		t.Error("expected user to be allowed after the cool-down")
	}
}

func TestMemoryRateLimiterWindowResets(t *testing.T) {
	l := NewMemoryRateLimiter(RateConfig{Window: time.Minute, MaxRequests: 2, BlockDuration: 5 * time.Minute})
	ctx := context.Background()

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	l.Allow(ctx, "42")
	l.Allow(ctx, "42")

	clock = clock.Add(2 * time.Minute)
	if ok, _ := l.Allow(ctx, "42"); !ok {
		t.Error("expected a fresh window after the old one elapsed")
	}
}

func TestMemoryRateLimiterIndependentUsers(t *testing.T) {
	l := NewMemoryRateLimiter(RateConfig{Window: time.Minute, MaxRequests: 1, BlockDuration: 5 * time.Minute})
	ctx := context.Background()

	l.Allow(ctx, "a")
	if ok, _ := l.Allow(ctx, "a"); ok {
		t.Fatal("user a should be throttled")
	}
	if ok, _ := l.Allow(ctx, "b"); !ok {
		t.Error("user b must not be affected by user a's throttle")
	}
}
