package attempt

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryPolicyBlocksAfterThreshold(t *testing.T) {
	p := NewMemoryPolicy(Config{Threshold: 3, BlockDuration: 30 * time.Minute})
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
	if !until.After(time.Now()) {
		t.Errorf("expected future block deadline, got %v", until)
	}
}

func TestMemoryPolicySuccessResetsCounter(t *testing.T) {
	p := NewMemoryPolicy(Config{Threshold: 3})
	ctx := context.Background()

	p.RecordFailure(ctx, "42")
	p.RecordFailure(ctx, "42")
	if err := p.RecordSuccess(ctx, "42"); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	// Two more failures must not reach the threshold: the counter restarted.
	for i := 0; i < 2; i++ {
		blocked, err := p.RecordFailure(ctx, "42")
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		if blocked {
			t.Error("blocked before threshold after a successful reset")
		}
	}
}

func TestMemoryPolicyExpiredBlockClearsLazily(t *testing.T) {
	p := NewMemoryPolicy(Config{Threshold: 1, BlockDuration: 10 * time.Minute})
	ctx := context.Background()

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }

	blocked, err := p.RecordFailure(ctx, "42")
	if err != nil || !blocked {
		t.Fatalf("RecordFailure = (%v, %v), want blocked", blocked, err)
	}

	isBlocked, _, _ := p.IsBlocked(ctx, "42")
	if !isBlocked {
		t.Fatal("expected blocked inside the window")
	}

	clock = clock.Add(11 * time.Minute)
	isBlocked, until, err := p.IsBlocked(ctx, "42")
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if isBlocked {
		t.Error("expected block to expire without an explicit unblock call")
	}
	if !until.IsZero() {
		t.Errorf("expected zero deadline after expiry, got %v", until)
	}
}

func TestMemoryPolicyIndependentUsers(t *testing.T) {
	p := NewMemoryPolicy(Config{Threshold: 1})
	ctx := context.Background()

	if blocked, _ := p.RecordFailure(ctx, "a"); !blocked {
		t.Fatal("user a should be blocked")
	}
	if isBlocked, _, _ := p.IsBlocked(ctx, "b"); isBlocked {
		t.Error("user b must not inherit user a's block")
	}
}

func TestMemoryPolicyConcurrentFailuresCount(t *testing.T) {
	p := NewMemoryPolicy(Config{Threshold: 3, BlockDuration: time.Hour})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.RecordFailure(ctx, "42")
		}()
	}
	wg.Wait()

	// Ten concurrent failures must land atomically: the user ends blocked.
	isBlocked, _, err := p.IsBlocked(ctx, "42")
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if !isBlocked {
		t.Error("expected user blocked after concurrent failures past threshold")
	}
}
