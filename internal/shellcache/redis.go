package shellcache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "shell"

// RedisStore is a CacheStore backed by Redis, for deployments where the
// cache should survive restarts.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func entryKey(generation, key string) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, generation, key)
}

func generationsKey() string {
	return redisKeyPrefix + ":generations"
}

// Put stores the entry and records the generation in the index set.
func (s *RedisStore) Put(ctx context.Context, generation, key string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := s.client.Set(ctx, entryKey(generation, key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	if err := s.client.SAdd(ctx, generationsKey(), generation).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

// Get returns the entry for the key, or nil on miss.
func (s *RedisStore) Get(ctx context.Context, generation, key string) (*Entry, error) {
	data, err := s.client.Get(ctx, entryKey(generation, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return &e, nil
}

// Generations lists generation names recorded in the index set.
func (s *RedisStore) Generations(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, generationsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return names, nil
}

// DeleteGeneration removes every key in the generation plus its index
// entry.
func (s *RedisStore) DeleteGeneration(ctx context.Context, generation string) error {
	pattern := fmt.Sprintf("%s:%s:*", redisKeyPrefix, generation)
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}

	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	if err := s.client.SRem(ctx, generationsKey(), generation).Err(); err != nil {
		return fmt.Errorf("redis srem: %w", err)
	}
	return nil
}
