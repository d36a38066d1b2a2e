// Package ratelimit provides Redis-backed fixed-window rate limiting with
// INCR + EXPIRE. The bridge uses it to throttle outbound sends per chat so a
// noisy producer cannot flood a conversation.
package ratelimit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:msg:", "rl:typing:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleMessage allows 5 messages per 10 seconds per chat.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

	// RuleTyping allows 20 typing signals per 10 seconds per chat.
	RuleTyping = Rule{Key: "rl:typing:", Limit: 20, Window: 10 * time.Second}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client redis.Cmdable
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client redis.Cmdable) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether identifier is within the limit defined by rule. It
// increments the counter and sets the expiry on first access.
//
// On Redis errors it fails open: it returns true along with the error so a
// Redis outage does not block traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("component", "ratelimit").Str("key", key).Msg("redis INCR failed, failing open")
		return true, errors.Wrap(err, "ratelimit: incr")
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Warn().Err(err).Str("component", "ratelimit").Str("key", key).Msg("redis EXPIRE failed, failing open")
			// A key without TTL would throttle identifier forever.
			l.client.Del(ctx, key)
			return true, errors.Wrap(err, "ratelimit: expire")
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns how many requests identifier has left in the current
// window. It returns the full limit when the key does not exist yet or Redis
// fails.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("component", "ratelimit").Str("key", key).Msg("redis GET failed, failing open")
		return rule.Limit, errors.Wrap(err, "ratelimit: get")
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears identifier's counter for rule.
func (l *Limiter) Reset(ctx context.Context, identifier string, rule Rule) error {
	return errors.Wrap(l.client.Del(ctx, rule.Key+identifier).Err(), "ratelimit: del")
}
