package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/bandyab/bandyab/internal/domain"
)

const (
	fieldHash     = "h"
	fieldAttempts = "n"
)

// RedisStore keeps pending codes in Redis hashes that expire with the code
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore creates a RedisStore
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Save implements Store
func (s *RedisStore) Save(ctx context.Context, key, codeHash string, ttl time.Duration) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, fieldHash, codeHash, fieldAttempts, 0)
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save code: %w", err)
	}
	return nil
}

// Attempt implements Store. HINCRBY on a missing key would create it, so the
// existence check and the increment run in one transaction.
func (s *RedisStore) Attempt(ctx context.Context, key string) (string, int, error) {
	var (
		hashCmd  *redis.StringCmd
		countCmd *redis.IntCmd
	)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return "", 0, fmt.Errorf("failed to read code: %w", err)
	}
	if exists == 0 {
		return "", 0, domain.ErrCodeExpired
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		countCmd = p.HIncrBy(ctx, key, fieldAttempts, 1)
		hashCmd = p.HGet(ctx, key, fieldHash)
		return nil
	})
	if errors.Is(err, redis.Nil) || (hashCmd != nil && errors.Is(hashCmd.Err(), redis.Nil)) {
		// expired between the check and the increment
		_ = s.rdb.Del(ctx, key).Err()
		return "", 0, domain.ErrCodeExpired
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to count attempt: %w", err)
	}
	return hashCmd.Val(), int(countCmd.Val()), nil
}

// Delete implements Store
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// RedisLimiter applies one or more GCRA limits per key through redis_rate
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	prefix  string
	limits  []redis_rate.Limit
}

// NewRedisLimiter creates a limiter allowing perMinute sends per minute and perHour
// sends per hour. A zero value disables that window.
func NewRedisLimiter(rdb redis.UniversalClient, prefix string, perMinute, perHour int) *RedisLimiter {
	l := &RedisLimiter{limiter: redis_rate.NewLimiter(rdb), prefix: prefix}
	if perMinute > 0 {
		l.limits = append(l.limits, redis_rate.PerMinute(perMinute))
	}
	if perHour > 0 {
		l.limits = append(l.limits, redis_rate.PerHour(perHour))
	}
	return l
}

// Allow implements Limiter. Every window is checked; the first one exhausted rejects.
func (l *RedisLimiter) Allow(ctx context.Context, key string) error {
	for _, limit := range l.limits {
		res, err := l.limiter.Allow(ctx, fmt.Sprintf("%s:%s:%s", l.prefix, limit.Period, key), limit)
		if err != nil {
			return fmt.Errorf("failed to check send limit: %w", err)
		}
		if res.Allowed == 0 {
			return domain.ErrRateLimited
		}
	}
	return nil
}
