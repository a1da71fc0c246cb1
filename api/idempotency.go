package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// pendingIdempotency marks a key whose create request has not finished yet.
const pendingIdempotency = "pending"

// RedisDeduper stores idempotency keys in Redis so every API instance sees
// the same create requests.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("idem:%s:%s", userID, key)
}

// Claim records the key as pending if it is new. Otherwise it returns the
// stored value: the created task id, or the pending marker.
func (r *RedisDeduper) Claim(ctx context.Context, userID, key string) (string, bool, error) {
	k := r.key(userID, key)
	ok, err := r.client.SetNX(ctx, k, pendingIdempotency, r.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	existing, err := r.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; treat it as still in flight so the
		// client retries instead of racing a second create.
		return pendingIdempotency, false, nil
	}
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

// Complete binds the key to the created task for the rest of the TTL.
func (r *RedisDeduper) Complete(ctx context.Context, userID, key, taskID string) error {
	return r.client.Set(ctx, r.key(userID, key), taskID, r.ttl).Err()
}

// Release deletes a pending key so the client may retry after a failure.
func (r *RedisDeduper) Release(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
