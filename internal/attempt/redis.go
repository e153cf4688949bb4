package attempt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

var errRedisUnavailable = errors.New("attempt redis unavailable")

const (
	failKeyPrefix  = "gg:login:fail:"
	blockKeyPrefix = "gg:login:block:"
)

// RedisPolicy is a Redis-backed Policy shared across bot instances. Failure
// counters live under a TTL equal to the block duration so abandoned
// counters decay on their own; blocks are plain keys whose TTL is the
// remaining cool-down, which makes lazy expiry automatic.
type RedisPolicy struct {
	client *redis.Client
	cfg    Config
}

// NewRedisPolicy creates a Redis-backed Policy with the given configuration.
func NewRedisPolicy(client *redis.Client, cfg Config) *RedisPolicy {
	return &RedisPolicy{client: client, cfg: cfg.withDefaults()}
}

// RecordFailure increments the failure counter and blocks at the threshold.
func (p *RedisPolicy) RecordFailure(ctx context.Context, userID string) (bool, error) {
	failKey := failKeyPrefix + userID

	count, err := p.client.Incr(ctx, failKey).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	if count == 1 {
		if err := p.client.Expire(ctx, failKey, p.cfg.BlockDuration).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", errRedisUnavailable, err)
		}
	}

	if count < int64(p.cfg.Threshold) {
		slog.Debug("AttemptPolicy failure recorded", "userID", userID, "failedAttempts", count)
		return false, nil
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, blockKeyPrefix+userID, "1", p.cfg.BlockDuration)
	pipe.Del(ctx, failKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	slog.Warn("AttemptPolicy user blocked", "userID", userID, "duration", p.cfg.BlockDuration)
	return true, nil
}

// RecordSuccess resets the failure counter and clears any block.
func (p *RedisPolicy) RecordSuccess(ctx context.Context, userID string) error {
	if err := p.client.Del(ctx, failKeyPrefix+userID, blockKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	slog.Debug("AttemptPolicy failures reset", "userID", userID)
	return nil
}

// IsBlocked reports the block status. Expiry is handled by the key TTL, so
// an elapsed block simply reads as absent.
func (p *RedisPolicy) IsBlocked(ctx context.Context, userID string) (bool, time.Time, error) {
	ttl, err := p.client.PTTL(ctx, blockKeyPrefix+userID).Result()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	if ttl <= 0 {
		// -2 key missing, -1 no expiry (never set by us).
		return false, time.Time{}, nil
	}
	return true, time.Now().Add(ttl), nil
}
