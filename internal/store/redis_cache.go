package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache on Redis so several client processes (CLI,
// bridge, watcher) render the same entity state.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient creates a cache from an existing Redis client
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: "zentel:",
		ttl:    ttl,
	}
}

func (c *RedisCache) memoKey(memoID string) string {
	return c.prefix + "memo:" + memoID
}

func (c *RedisCache) commentsKey(memoID string) string {
	return c.prefix + "comments:" + memoID
}

func (c *RedisCache) PutMemo(ctx context.Context, memo Memo) error {
	payload, err := json.Marshal(memo)
	if err != nil {
		return fmt.Errorf("marshal memo: %w", err)
	}
	if err := c.client.Set(ctx, c.memoKey(memo.ID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("save memo: %w", err)
	}
	return nil
}

func (c *RedisCache) GetMemo(ctx context.Context, memoID string) (Memo, error) {
	payload, err := c.client.Get(ctx, c.memoKey(memoID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Memo{}, ErrCacheMiss
	}
	if err != nil {
		return Memo{}, fmt.Errorf("lookup memo: %w", err)
	}

	var memo Memo
	if err := json.Unmarshal(payload, &memo); err != nil {
		return Memo{}, fmt.Errorf("unmarshal memo: %w", err)
	}
	return memo.WithoutDerived(), nil
}

func (c *RedisCache) DeleteMemo(ctx context.Context, memoID string) error {
	if err := c.client.Del(ctx, c.memoKey(memoID), c.commentsKey(memoID)).Err(); err != nil {
		return fmt.Errorf("delete memo: %w", err)
	}
	return nil
}

func (c *RedisCache) PutComments(ctx context.Context, memoID string, comments []Comment) error {
	if comments == nil {
		comments = []Comment{}
	}
	payload, err := json.Marshal(comments)
	if err != nil {
		return fmt.Errorf("marshal comments: %w", err)
	}
	if err := c.client.Set(ctx, c.commentsKey(memoID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("save comments: %w", err)
	}
	return nil
}

func (c *RedisCache) GetComments(ctx context.Context, memoID string) ([]Comment, error) {
	payload, err := c.client.Get(ctx, c.commentsKey(memoID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("lookup comments: %w", err)
	}

	var comments []Comment
	if err := json.Unmarshal(payload, &comments); err != nil {
		return nil, fmt.Errorf("unmarshal comments: %w", err)
	}
	return comments, nil
}

// Ping checks if Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
