// Package attempt provides brute-force defense for login flows,
// independent of the chat transport.
//
// A Policy tracks consecutive failed login attempts per user, blocks the
// user for a configurable cool-down once the threshold is reached, and
// lazily expires blocks on read. Operations are atomic per user id under
// concurrent access.
package attempt

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default policy configuration values.
const (
	// DefaultThreshold is the number of consecutive failures that triggers
	// a block.
	DefaultThreshold = 3
	// DefaultLoginBlockDuration is the cool-down applied by the login flow.
	DefaultLoginBlockDuration = 30 * time.Minute
	// DefaultRateLimitBlockDuration is the cool-down applied by the generic
	// message rate limiter. Independent of the login cool-down.
	DefaultRateLimitBlockDuration = 5 * time.Minute
)

// Config holds policy tuning values.
type Config struct {
	// Threshold is the failure count that triggers a block. Zero means
	// DefaultThreshold.
	Threshold int
	// BlockDuration is how long a triggered block lasts. Zero means
	// DefaultLoginBlockDuration.
	BlockDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = DefaultLoginBlockDuration
	}
	return c
}

// Policy tracks login failures and block windows per user id.
type Policy interface {
	// RecordFailure increments the failure count for the user. When the new
	// count reaches the threshold it sets the block window and returns true.
	RecordFailure(ctx context.Context, userID string) (blocked bool, err error)

	// RecordSuccess resets the failure count and clears any block.
	RecordSuccess(ctx context.Context, userID string) error

	// IsBlocked reports whether the user is currently blocked and, if so,
	// when the block expires. An elapsed block is lazily cleared; reading
	// never fails on an expired entry.
	IsBlocked(ctx context.Context, userID string) (blocked bool, until time.Time, err error)
}

type blockState struct {
	failedAttempts int
	blockedUntil   time.Time
}

// MemoryPolicy is an in-process Policy. Suitable for single-instance
// deployments; use RedisPolicy when running more than one bot instance.
type MemoryPolicy struct {
	mu     sync.Mutex
	states map[string]*blockState
	cfg    Config
	now    func() time.Time
}

// NewMemoryPolicy creates an in-memory Policy with the given configuration.
func NewMemoryPolicy(cfg Config) *MemoryPolicy {
	return &MemoryPolicy{
		states: make(map[string]*blockState),
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

// RecordFailure increments the failure count and blocks at the threshold.
func (p *MemoryPolicy) RecordFailure(ctx context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.states[userID]
	if st == nil {
		st = &blockState{}
		p.states[userID] = st
	}
	st.failedAttempts++
	if st.failedAttempts >= p.cfg.Threshold {
		st.blockedUntil = p.now().Add(p.cfg.BlockDuration)
		st.failedAttempts = 0
		slog.Warn("AttemptPolicy user blocked", "userID", userID, "until", st.blockedUntil)
		return true, nil
	}
	slog.Debug("AttemptPolicy failure recorded", "userID", userID, "failedAttempts", st.failedAttempts)
	return false, nil
}

// RecordSuccess resets the failure count and clears any block.
func (p *MemoryPolicy) RecordSuccess(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.states, userID)
	slog.Debug("AttemptPolicy failures reset", "userID", userID)
	return nil
}

// IsBlocked reports the block status, lazily clearing an expired block.
func (p *MemoryPolicy) IsBlocked(ctx context.Context, userID string) (bool, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.states[userID]
	if st == nil || st.blockedUntil.IsZero() {
		return false, time.Time{}, nil
	}
	now := p.now()
	if !st.blockedUntil.After(now) {
		// Block elapsed: clear it so stale entries do not accumulate.
		delete(p.states, userID)
		slog.Debug("AttemptPolicy expired block cleared", "userID", userID)
		return false, time.Time{}, nil
	}
	return true, st.blockedUntil, nil
}
