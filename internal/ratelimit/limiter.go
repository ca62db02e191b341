// Package ratelimit provides Redis-backed request throttling using the
// INCR + EXPIRE counter window. The moderation API applies it per
// client when Redis is configured; without Redis the API runs
// unthrottled.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rule defines one throttling policy: the Redis key prefix, the number
// of requests allowed in the window, and the window duration.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

// RuleAnalyze bounds how many analyze calls one client may issue.
// Callers are chat backends submitting batches, not end users, so the
// allowance is generous.
var RuleAnalyze = Rule{Key: "rl:analyze:", Limit: 120, Window: time.Minute}

// Limiter performs throttling checks against Redis.
type Limiter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, logger *zap.Logger) *Limiter {
	return &Limiter{client: client, logger: logger}
}

// Allow increments the identifier's counter and reports whether it is
// still within the rule's allowance. On the first increment the key
// expiry defines the window boundary. Redis errors fail open so a
// Redis outage does not take the API down with it.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("throttle counter unavailable, allowing",
			zap.String("key", key), zap.Error(err))
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.logger.Warn("throttle window not set, allowing",
				zap.String("key", key), zap.Error(err))
			// The key has no TTL and would hold the identifier over the
			// limit forever. Remove it.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}
