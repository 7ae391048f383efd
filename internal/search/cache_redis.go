package search

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisCachePrefix = "catalog:cache:"

// RedisCacheBackend stores aggregated responses in Redis as JSON under a
// shared key prefix. Expiry is delegated to Redis TTLs; a miss and an
// absent key are the same thing to callers.
type RedisCacheBackend struct {
	client *redis.Client
}

func NewRedisCacheBackend(client *redis.Client) *RedisCacheBackend {
	return &RedisCacheBackend{client: client}
}

// Get fills out from the stored JSON. The bool reports whether the key
// existed; decode failures surface as errors so the caller can drop the
// entry.
func (b *RedisCacheBackend) Get(ctx context.Context, key string, out any) (bool, error) {
	data, err := b.client.Get(ctx, redisCachePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, out)
}

func (b *RedisCacheBackend) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, redisCachePrefix+key, data, ttl).Err()
}

func (b *RedisCacheBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, redisCachePrefix+key).Err()
}

func (b *RedisCacheBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
