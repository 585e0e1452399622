package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a redis-backed session store for multi-process deployments.
// Keys are namespaced as twofa:sess:<sessionID>:<key> and expire with the
// session TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a redis session store. A zero ttl disables expiry.
func NewRedisStore(addr, password string, db int, ttl time.Duration) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) redisKey(sessionID, key string) string {
	return fmt.Sprintf("twofa:sess:%s:%s", sessionID, key)
}

func (s *RedisStore) Get(ctx context.Context, sessionID, key string) (string, error) {
	value, err := s.client.Get(ctx, s.redisKey(sessionID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get session value: %w", err)
	}
	return value, nil
}

func (s *RedisStore) Put(ctx context.Context, sessionID, key, value string) error {
	if err := s.client.Set(ctx, s.redisKey(sessionID, key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to put session value: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID, key string) error {
	if err := s.client.Del(ctx, s.redisKey(sessionID, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete session value: %w", err)
	}
	return nil
}
