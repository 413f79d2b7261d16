package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "ratelimit:"

// incrementScript bumps the counter and arms the window expiry on the first
// hit. A key found without a TTL is re-armed.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore keeps window counters in redis so several server instances share
// one quota. Keys expire with their window, so Sweep has nothing to do.
type RedisStore struct {
	client *redis.Client
	nowF   func() time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, nowF: time.Now}
}

// DialRedisStore parses a redis:// URL, connects and pings.
func DialRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStore(client), nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Record, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{redisKeyPrefix + key}, window.Milliseconds()).Result()
	if err != nil {
		return Record{}, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Record{}, fmt.Errorf("unexpected script reply %T", res)
	}
	count, _ := vals[0].(int64)
	ttl, _ := vals[1].(int64)
	return Record{
		Key:     key,
		Count:   int(count),
		ResetAt: s.nowF().Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, redisKeyPrefix+key)
	ttl := pipe.PTTL(ctx, redisKeyPrefix+key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Record{}, false, err
	}
	count, err := get.Int()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	d := ttl.Val()
	if d <= 0 {
		return Record{}, false, nil
	}
	return Record{Key: key, Count: count, ResetAt: s.nowF().Add(d)}, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}

func (s *RedisStore) Sweep(ctx context.Context) (int, error) { return 0, nil }

// Close releases the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }

// Ping reports whether redis answers.
func (s *RedisStore) Ping(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}
