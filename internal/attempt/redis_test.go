package attempt

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisPolicy(t *testing.T, cfg Config) (*RedisPolicy, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisPolicy(client, cfg), mr
}

func TestRedisPolicyBlocksAfterThreshold(t *testing.T) {
	p, _ := newTestRedisPolicy(t, Config{Threshold: 3, BlockDuration: 30 * time.Minute})
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		blocked, err := p.RecordFailure(ctx, "42")
		if err != nil {
			t.Fatalf("RecordFailure %d: %v", i, err)
		}
		if blocked {
			t.Fatalf("blocked after %d failures, want threshold 3", i)
		}
	}

	blocked, err := p.RecordFailure(ctx, "42")
	if err != nil {
		t.Fatalf("RecordFailure 3: %v", err)
	}
	if !blocked {
		t.Error("expected block after 3rd consecutive failure")
	}

	isBlocked, until, err := p.IsBlocked(ctx, "42")
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if !isBlocked {
		t.Error("expected IsBlocked true after threshold reached")
	}
	if remaining := time.Until(until); remaining <= 0 || remaining > 30*time.Minute {
		t.Errorf("unexpected remaining cool-down %v", remaining)
	}
}

func TestRedisPolicySuccessClearsState(t *testing.T) {
	p, _ := newTestRedisPolicy(t, Config{Threshold: 1, BlockDuration: 30 * time.Minute})
	ctx := context.Background()

	if blocked, _ := p.RecordFailure(ctx, "42"); !blocked {
		t.Fatal("expected immediate block at threshold 1")
	}
	if err := p.RecordSuccess(ctx, "42"); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	if isBlocked, _, _ := p.IsBlocked(ctx, "42"); isBlocked {
		t.Error("expected block cleared after RecordSuccess")
	}
}

func TestRedisPolicyBlockExpires(t *testing.T) {
	p, mr := newTestRedisPolicy(t, Config{Threshold: 1, BlockDuration: time.Minute})
	ctx := context.Background()

	if blocked, _ := p.RecordFailure(ctx, "42"); !blocked {
		t.Fatal("expected immediate block at threshold 1")
	}

	mr.FastForward(2 * time.Minute)

	isBlocked, _, err := p.IsBlocked(ctx, "42")
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if isBlocked {
		t.Error("expected block to expire with its key TTL")
	}
}

func TestRedisPolicyFailureCounterDecays(t *testing.T) {
	p, mr := newTestRedisPolicy(t, Config{Threshold: 3, BlockDuration: time.Minute})
	ctx := context.Background()

	p.RecordFailure(ctx, "42")
	p.RecordFailure(ctx, "42")
	mr.FastForward(2 * time.Minute)

	// The stale counter expired, so one more failure starts from scratch.
	blocked, err := p.RecordFailure(ctx, "42")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if blocked {
		t.Error("expected decayed counter not to trigger a block")
	}
}
