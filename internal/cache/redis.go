package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modwatch/chat-triage/internal/policy"
)

// DecisionPrefix is the Redis key prefix for cached decisions:
//
//	Key:   decision:<username>
//	Value: <verdict>
//	TTL:   DefaultTTL
const DecisionPrefix = "decision:"

// Redis caches decisions in Redis so multiple instances share one view
// of which users have already been judged.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a decision cache using the provided Redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, ttl: DefaultTTL}
}

var _ Cache = (*Redis)(nil)

// Get returns the cached verdict for a username, or a miss if none is
// stored. Entries holding an unparseable verdict are deleted and
// reported as a miss.
func (r *Redis) Get(ctx context.Context, username string) (policy.Verdict, bool, error) {
	key := DecisionPrefix + username

	raw, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: get %s: %w", username, err)
	}

	verdict, ok := policy.ParseVerdict(raw)
	if !ok {
		// Stale or corrupt entry. Drop it rather than serving junk.
		r.client.Del(ctx, key)
		return "", false, nil
	}
	return verdict, true, nil
}

// Set stores a verdict for a username with the cache TTL.
func (r *Redis) Set(ctx context.Context, username string, verdict policy.Verdict) error {
	key := DecisionPrefix + username
	if err := r.client.Set(ctx, key, string(verdict), r.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", username, err)
	}
	return nil
}

// Invalidate removes a username's cached decision immediately.
func (r *Redis) Invalidate(ctx context.Context, username string) error {
	if err := r.client.Del(ctx, DecisionPrefix+username).Err(); err != nil {
		return fmt.Errorf("cache: invalidate %s: %w", username, err)
	}
	return nil
}

// Clear removes every cached decision via an incremental scan.
func (r *Redis) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, DecisionPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("cache: clear %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: clear scan: %w", err)
	}
	return nil
}
