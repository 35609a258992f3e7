package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a shared Redis instance. All keys carry a
// common prefix so multiple deployments can share one Redis database.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore around an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: strings.TrimSpace(prefix),
	}
}

// DialRedis connects to Redis and verifies the connection with a ping.
func DialRedis(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	return NewRedisStore(client, prefix), nil
}

func (s *RedisStore) buildKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Get returns the string value at key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, errGet := s.client.Get(ctx, s.buildKey(key)).Result()
	if errors.Is(errGet, redis.Nil) {
		return "", ErrNotFound
	}
	return val, errGet
}

// Set stores value at key with an optional TTL.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, s.buildKey(key), value, ttl).Err()
}

// Incr atomically adds amount to the integer at key.
func (s *RedisStore) Incr(ctx context.Context, key string, amount int64) (int64, error) {
	return s.client.IncrBy(ctx, s.buildKey(key), amount).Result()
}

// HGet returns one hash field, or ErrNotFound.
func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, error) {
	val, errGet := s.client.HGet(ctx, s.buildKey(key), field).Result()
	if errors.Is(errGet, redis.Nil) {
		return "", ErrNotFound
	}
	return val, errGet
}

// HSet writes the given hash fields.
func (s *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for field, value := range fields {
		args = append(args, field, value)
	}
	return s.client.HSet(ctx, s.buildKey(key), args...).Err()
}

// HGetAll returns all hash fields; an empty map when the hash is absent.
func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, s.buildKey(key)).Result()
}

// LAppend appends values to the list at key.
func (s *RedisStore) LAppend(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, 0, len(values))
	for _, value := range values {
		args = append(args, value)
	}
	return s.client.RPush(ctx, s.buildKey(key), args...).Err()
}

// LRange returns list elements in [start, stop].
func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, s.buildKey(key), start, stop).Result()
}

// Expire sets the key TTL.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, s.buildKey(key), ttl).Err()
}

// Delete removes the key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.buildKey(key)).Err()
}

// Ping verifies the backend is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
