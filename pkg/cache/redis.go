package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCache Redis缓存实现，值以 JSON 存储
type redisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache 创建Redis缓存并检查连通性
func NewRedisCache(config RedisConfig) (Cache, error) {
	client := NewRedisClient(config)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client, "safehaven:"), nil
}

// NewRedisCacheWithClient 复用已有客户端
func NewRedisCacheWithClient(client *redis.Client, prefix string) Cache {
	return &redisCache{client: client, prefix: prefix}
}

func (rc *redisCache) Get(ctx context.Context, key string) (interface{}, bool) {
	raw, err := rc.client.Get(ctx, rc.prefix+key).Result()
	if err != nil {
		return nil, false
	}
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		// 如果JSON解析失败，尝试直接返回字符串
		return raw, true
	}
	return value, true
}

func (rc *redisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return rc.client.Set(ctx, rc.prefix+key, data, expiration).Err()
}

func (rc *redisCache) Delete(ctx context.Context, key string) error {
	err := rc.client.Del(ctx, rc.prefix+key).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (rc *redisCache) Exists(ctx context.Context, key string) bool {
	return rc.client.Exists(ctx, rc.prefix+key).Val() > 0
}

func (rc *redisCache) Close() error {
	return rc.client.Close()
}
