package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeySetCache stores raw JWKS documents in Redis so every replica shares one
// copy of a provider's keys.
type KeySetCache struct {
	rdb   redis.Cmdable
	keyNS string
	ttl   time.Duration
}

func NewKeySetCache(rdb redis.Cmdable, keyPrefix string, ttl time.Duration) *KeySetCache {
	if keyPrefix == "" {
		keyPrefix = "auth:jwks:"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &KeySetCache{rdb: rdb, keyNS: keyPrefix, ttl: ttl}
}

func (s *KeySetCache) key(domain string) string { return s.keyNS + domain }

func (s *KeySetCache) Put(ctx context.Context, domain string, doc []byte) error {
	return s.rdb.Set(ctx, s.key(domain), doc, s.ttl).Err()
}

func (s *KeySetCache) Get(ctx context.Context, domain string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(domain)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *KeySetCache) Del(ctx context.Context, domain string) error {
	return s.rdb.Del(ctx, s.key(domain)).Err()
}

// Close is a no-op; the Redis client belongs to the caller.
func (s *KeySetCache) Close() error { return nil }
