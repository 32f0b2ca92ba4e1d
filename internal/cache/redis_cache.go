package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type RedisResponseCache struct {
	client *redis.Client
}

func NewRedisResponseCache(addr string, password string, db int) *RedisResponseCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisResponseCache{client: client}
}

func (c *RedisResponseCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisResponseCache) Close() error {
	return c.client.Close()
}

func (c *RedisResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisResponseCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if len(payload) == 0 {
		return nil
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
