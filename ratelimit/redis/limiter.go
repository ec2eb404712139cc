package redislimiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limit is the number of attempts allowed per client within Window.
type Limit struct {
	Limit  int
	Window time.Duration
}

// Limiter is a Redis-backed sliding window limiter using ZSETs, shared by
// every replica behind the same Redis.
type Limiter struct {
	rdb    redis.Cmdable
	prefix string
	limit  Limit
}

func New(rdb redis.Cmdable, prefix string, limit Limit) *Limiter {
	if prefix == "" {
		prefix = "auth:rl:"
	}
	if limit.Limit <= 0 || limit.Window <= 0 {
		limit = Limit{Limit: 100, Window: time.Minute}
	}
	return &Limiter{rdb: rdb, prefix: prefix, limit: limit}
}

// Allow records an attempt for key and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	if key == "" {
		return false, errors.New("redislimiter: key required")
	}
	now := time.Now().UnixMilli()
	start := now - l.limit.Window.Milliseconds()
	zkey := l.prefix + key
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, zkey, "0", fmt.Sprintf("%d", start))
	pipe.ZAdd(ctx, zkey, redis.Z{Score: float64(now), Member: member})
	countCmd := pipe.ZCard(ctx, zkey)
	pipe.Expire(ctx, zkey, l.limit.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	count, err := countCmd.Result()
	if err != nil {
		return false, err
	}
	if count > int64(l.limit.Limit) {
		l.rdb.ZRem(ctx, zkey, member)
		return false, nil
	}
	return true, nil
}
