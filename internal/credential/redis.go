package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time check that RedisPool implements Pool.
var _ Pool = (*RedisPool)(nil)

// RedisPool is a Redis-backed implementation of Pool so several processes
// can share one credential pool. Tokens live in a list, rotation uses an
// INCR counter, per-token flags live in a hash, and daily usage counters
// expire at end of day.
type RedisPool struct {
	rdb        *redis.Client
	dailyLimit int // 0 disables the daily cap
}

const (
	keyTokens   = "grokpi:sso:tokens"
	keyRotation = "grokpi:sso:rotation"
	keyState    = "grokpi:sso:state:" // + token, hash
	keyUsage    = "grokpi:sso:usage:" // + token + ":" + yyyy-mm-dd
)

// NewRedisPool creates a Redis-backed pool and seeds it with the given
// tokens. Seeding is idempotent: existing tokens keep their state.
func NewRedisPool(ctx context.Context, rdb *redis.Client, tokens []string, dailyLimit int) (*RedisPool, error) {
	p := &RedisPool{rdb: rdb, dailyLimit: dailyLimit}

	for _, t := range tokens {
		if t == "" {
			continue
		}
		n, err := rdb.LPos(ctx, keyTokens, t, redis.LPosArgs{}).Result()
		if err == nil && n >= 0 {
			continue
		}
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("credential: seed pool: %w", err)
		}
		if err := rdb.RPush(ctx, keyTokens, t).Err(); err != nil {
			return nil, fmt.Errorf("credential: seed pool: %w", err)
		}
	}

	return p, nil
}

// Acquire returns the next token in rotation order. Tokens whose failure
// streak crossed the threshold or whose daily usage hit the cap are
// skipped; if every token is skipped, the first failing token is returned
// so callers can still make progress.
func (p *RedisPool) Acquire(ctx context.Context) (string, error) {
	size, err := p.rdb.LLen(ctx, keyTokens).Result()
	if err != nil {
		return "", fmt.Errorf("credential: pool size: %w", err)
	}
	if size == 0 {
		return "", ErrPoolEmpty
	}

	var fallback string
	for i := int64(0); i < size; i++ {
		idx, err := p.rdb.Incr(ctx, keyRotation).Result()
		if err != nil {
			return "", fmt.Errorf("credential: rotate: %w", err)
		}
		token, err := p.rdb.LIndex(ctx, keyTokens, (idx-1)%size).Result()
		if err != nil {
			return "", fmt.Errorf("credential: rotate: %w", err)
		}
		if fallback == "" {
			fallback = token
		}

		failures, err := p.rdb.HGet(ctx, keyState+token, "failures").Int()
		if err != nil && err != redis.Nil {
			return "", fmt.Errorf("credential: read state: %w", err)
		}
		if failures >= maxConsecutiveFailures {
			continue
		}

		if p.dailyLimit > 0 {
			used, err := p.rdb.Get(ctx, p.usageKey(token)).Int()
			if err != nil && err != redis.Nil {
				return "", fmt.Errorf("credential: read usage: %w", err)
			}
			if used >= p.dailyLimit {
				continue
			}
		}

		return token, nil
	}

	return fallback, nil
}

// AgeVerified reports whether the token has completed age verification.
func (p *RedisPool) AgeVerified(ctx context.Context, token string) (bool, error) {
	v, err := p.rdb.HGet(ctx, keyState+token, "age_verified").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("credential: read age flag: %w", err)
	}
	return v == "1", nil
}

// SetAgeVerified records the age-verification state of the token.
func (p *RedisPool) SetAgeVerified(ctx context.Context, token string, verified bool) error {
	v := "0"
	if verified {
		v = "1"
	}
	if err := p.rdb.HSet(ctx, keyState+token, "age_verified", v).Err(); err != nil {
		return fmt.Errorf("credential: set age flag: %w", err)
	}
	return nil
}

// MarkSuccess clears the token's failure streak and counts the success.
func (p *RedisPool) MarkSuccess(ctx context.Context, token string) error {
	err := p.rdb.HSet(ctx, keyState+token, "failures", 0).Err()
	if err != nil {
		return fmt.Errorf("credential: mark success: %w", err)
	}
	if err := p.rdb.HIncrBy(ctx, keyState+token, "successes", 1).Err(); err != nil {
		return fmt.Errorf("credential: mark success: %w", err)
	}
	return nil
}

// MarkFailed increments the token's failure streak and records the reason.
func (p *RedisPool) MarkFailed(ctx context.Context, token string, reason string) error {
	err := p.rdb.HIncrBy(ctx, keyState+token, "failures", 1).Err()
	if err != nil {
		return fmt.Errorf("credential: mark failed: %w", err)
	}
	fields := map[string]interface{}{
		"last_failure":    reason,
		"last_failure_at": time.Now().Unix(),
	}
	if err := p.rdb.HSet(ctx, keyState+token, fields).Err(); err != nil {
		return fmt.Errorf("credential: mark failed: %w", err)
	}
	return nil
}

// RecordUsage increments the token's usage counter for the current day.
// The counter expires 48h after first use so stale days clean themselves up.
func (p *RedisPool) RecordUsage(ctx context.Context, token string) error {
	key := p.usageKey(token)
	n, err := p.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("credential: record usage: %w", err)
	}
	if n == 1 {
		if err := p.rdb.Expire(ctx, key, 48*time.Hour).Err(); err != nil {
			return fmt.Errorf("credential: record usage: %w", err)
		}
	}
	return nil
}

func (p *RedisPool) usageKey(token string) string {
	return keyUsage + token + ":" + time.Now().UTC().Format("2006-01-02")
}
