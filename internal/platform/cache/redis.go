package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// NewClient creates a new Redis client and verifies connectivity.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// RedisStore is the tag-capable backend. Entries are JSON payloads with a
// TTL; each key is also recorded in a Redis set named after its tag so
// Invalidate can drop the whole group at once.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewRedisStore constructs a RedisStore. A non-positive ttl falls back to
// DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func tagSetKey(tag string) string {
	return "tag:" + tag
}

// Fetch loads key into dest, computing and storing the value on a miss.
// Concurrent misses for the same key share a single compute call.
func (s *RedisStore) Fetch(ctx context.Context, key, tag string, dest any, compute func(context.Context) (any, error)) error {
	payload, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if err != redis.Nil {
		return err
	}

	resultCh := s.group.DoChan(key, func() (any, error) {
		return s.computeAndStore(ctx, key, tag, compute)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

func (s *RedisStore) computeAndStore(ctx context.Context, key, tag string, compute func(context.Context) (any, error)) ([]byte, error) {
	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, raw, s.ttl)
	pipe.SAdd(ctx, tagSetKey(tag), key)
	// The tag set must outlive its members so a later Invalidate still
	// sees every live key.
	pipe.Expire(ctx, tagSetKey(tag), 2*s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return raw, nil
}

// Invalidate drops every entry recorded under tag together with the tag
// set itself.
func (s *RedisStore) Invalidate(ctx context.Context, tag string) error {
	keys, err := s.client.SMembers(ctx, tagSetKey(tag)).Result()
	if err != nil {
		return err
	}
	keys = append(keys, tagSetKey(tag))
	return s.client.Del(ctx, keys...).Err()
}
