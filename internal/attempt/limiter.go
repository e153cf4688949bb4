package attempt

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default rate-limiter configuration values, matching the bot's historical
// limits of 10 messages per 60-second window.
const (
	DefaultRateWindow      = 60 * time.Second
	DefaultRateMaxRequests = 10
)

// RateConfig holds message rate-limiter tuning values.
type RateConfig struct {
	// Window is the measurement window. Zero means DefaultRateWindow.
	Window time.Duration
	// MaxRequests is the number of messages allowed per window. Zero means
	// DefaultRateMaxRequests.
	MaxRequests int
	// BlockDuration is the cool-down applied once the limit is exceeded.
	// Zero means DefaultRateLimitBlockDuration.
	BlockDuration time.Duration
}

func (c RateConfig) withDefaults() RateConfig {
	if c.Window <= 0 {
		c.Window = DefaultRateWindow
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultRateMaxRequests
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = DefaultRateLimitBlockDuration
	}
	return c
}

// RateLimiter throttles inbound message processing per user id. It is
// independent of the login AttemptPolicy and uses its own, shorter block
// duration.
type RateLimiter interface {
	// Allow reports whether a message from the user may be processed now.
	Allow(ctx context.Context, userID string) (bool, error)
}

type rateWindow struct {
	count        int
	windowStart  time.Time
	blockedUntil time.Time
}

// MemoryRateLimiter is an in-process RateLimiter.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	cfg     RateConfig
	now     func() time.Time
}

// NewMemoryRateLimiter creates an in-memory RateLimiter.
func NewMemoryRateLimiter(cfg RateConfig) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		windows: make(map[string]*rateWindow),
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

// Allow counts the message against the user's current window and blocks the
// user for the configured cool-down once the limit is exceeded.
func (l *MemoryRateLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.windows[userID]
	if w == nil {
		w = &rateWindow{windowStart: now}
		l.windows[userID] = w
	}

	if !w.blockedUntil.IsZero() {
		if w.blockedUntil.After(now) {
			return false, nil
		}
		*w = rateWindow{windowStart: now}
	}

	if now.Sub(w.windowStart) > l.cfg.Window {
		w.count = 0
		w.windowStart = now
	}
	w.count++
	if w.count > l.cfg.MaxRequests {
		w.blockedUntil = now.Add(l.cfg.BlockDuration)
		slog.Warn("RateLimiter user throttled", "userID", userID, "until", w.blockedUntil)
		return false, nil
	}
	return true, nil
}
